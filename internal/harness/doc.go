// Package harness runs end-to-end settlement scenarios against the full
// reconciliation stack on a mock clock.
//
// Each scenario gets a fresh in-memory store holding one order created at
// T0, the time-driven simulator as the status source, the push bus, the
// webhook receiver and a reconcile engine. Time only moves when the harness
// advances it, one second at a time, and every poll is allowed to settle
// before the next second, so a scenario produces the same trace on every run.
//
// # Scenario Format
//
// Scenarios are YAML files:
//
//	name: push_finalizes
//	description: "A signed push settles the order before polling can"
//	draw: 0.1
//	steps:
//	  - at: 1s
//	    watch: true
//	  - at: 5s
//	    push: { status: settled }
//	    expect: { state: finalized, source: webhook, status: settled }
//
// Step fields, applied in this order when the clock reaches at:
//
//   - fail_polls: true makes every status query fail; false restores it
//   - watch: starts the reconciliation session
//   - push: delivers a signed push; skew shifts the signing timestamp and
//     tamper alters the body after signing
//   - refresh, retry: the manual controls of a session
//   - expect: checks the session snapshot (state, source, status,
//     retry_count, polling_active, attempt)
//
// Unknown fields are rejected so a typo never silently disables a check.
//
// # Traces
//
// The result trace interleaves session traces with harness events (watch,
// push, fault injection). Offsets are measured from T0, not from the start
// of the session attempt. poll_started is omitted: every poll is issued and
// settled within the same second, so its settle trace carries the same
// information.
//
// # Usage
//
//	scenario, err := harness.LoadScenario("testdata/scenarios/push_finalizes.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	result, err := harness.Run(scenario)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if !result.Pass {
//	    for _, e := range result.Errors {
//	        log.Println(e)
//	    }
//	}
package harness
