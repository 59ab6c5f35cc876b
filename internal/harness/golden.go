package harness

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/sebdah/goldie/v2"
)

// GoldenDir holds golden traces, relative to the package under test.
const GoldenDir = "testdata/golden"

// Render formats a result as the golden text: the scenario name, one line
// per trace event and one line per persisted outcome.
func Render(scenarioName string, result *Result) []byte {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "scenario: %s\n", scenarioName)
	fmt.Fprintf(&buf, "trace:\n")
	for _, event := range result.Trace {
		fmt.Fprintf(&buf, "  %s\n", event)
	}

	fmt.Fprintf(&buf, "outcomes:\n")
	for _, o := range result.Outcomes {
		fmt.Fprintf(&buf, "  %s#%d +%s %s", o.SessionID, o.Attempt, o.At.Sub(T0), o.State)
		if o.Source != "" {
			fmt.Fprintf(&buf, " source=%s", o.Source)
		}
		if o.Status != "" {
			fmt.Fprintf(&buf, " status=%s", o.Status)
		}
		if o.Error != "" {
			fmt.Fprintf(&buf, " error=%q", o.Error)
		}
		buf.WriteByte('\n')
	}

	return buf.Bytes()
}

// RunWithGolden executes a scenario and compares its trace against a golden
// file stored at testdata/golden/{scenario.Name}.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns the result so callers can make further assertions. Returns an
// error if the scenario could not be driven; a trace mismatch fails t.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}

	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir(GoldenDir),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, Render(scenarioName, result))
}
