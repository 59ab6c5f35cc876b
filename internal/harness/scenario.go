package harness

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/settlewatch/internal/order"
	"github.com/roach88/settlewatch/internal/reconcile"
)

// DefaultOrderID is the order a scenario watches when it names none.
const DefaultOrderID = "ord_0x0000a001"

// Scenario is one end-to-end settlement scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// OrderID overrides DefaultOrderID.
	OrderID string `yaml:"order_id,omitempty"`

	// Draw is the random value used for the order's terminal draw.
	// Values below simulator.SettleRate settle, the rest fail.
	Draw float64 `yaml:"draw"`

	// Steps run in order of At.
	Steps []Step `yaml:"steps"`
}

// Step is everything that happens at one offset from T0.
type Step struct {
	// At is the offset from order creation, e.g. "19s".
	At time.Duration `yaml:"at"`

	// FailPolls turns status query failures on or off.
	FailPolls *bool `yaml:"fail_polls,omitempty"`

	// Watch starts the reconciliation session.
	Watch bool `yaml:"watch,omitempty"`

	// Push delivers a signed push notification.
	Push *PushStep `yaml:"push,omitempty"`

	// Refresh requests an immediate poll and resumes paused polling.
	Refresh bool `yaml:"refresh,omitempty"`

	// Retry starts a new attempt after a timeout.
	Retry bool `yaml:"retry,omitempty"`

	// Expect checks the session snapshot after the step's actions.
	Expect *Expect `yaml:"expect,omitempty"`
}

// PushStep describes one push delivery.
type PushStep struct {
	Status string `yaml:"status"`

	// Skew is added to the current time to form the signing timestamp.
	Skew time.Duration `yaml:"skew,omitempty"`

	// Tamper alters the body after it was signed.
	Tamper bool `yaml:"tamper,omitempty"`
}

// Expect is a subset match on the session snapshot.
// Unset fields are not checked.
type Expect struct {
	State         string `yaml:"state,omitempty"`
	Source        string `yaml:"source,omitempty"`
	Status        string `yaml:"status,omitempty"`
	RetryCount    *int   `yaml:"retry_count,omitempty"`
	PollingActive *bool  `yaml:"polling_active,omitempty"`
	Attempt       int    `yaml:"attempt,omitempty"`
}

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or fails validation.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	sort.SliceStable(scenario.Steps, func(i, j int) bool {
		return scenario.Steps[i].At < scenario.Steps[j].At
	})
	return &scenario, nil
}

// LoadDir loads every *.yaml scenario in dir, sorted by file name.
func LoadDir(dir string) ([]*Scenario, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.yaml"))
	if err != nil {
		return nil, fmt.Errorf("list scenarios: %w", err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no scenarios in %s", dir)
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	seen := make(map[string]string, len(paths))
	for _, path := range paths {
		s, err := LoadScenario(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
		if prev, ok := seen[s.Name]; ok {
			return nil, fmt.Errorf("%s: scenario name %q already used by %s", filepath.Base(path), s.Name, prev)
		}
		seen[s.Name] = filepath.Base(path)
		scenarios = append(scenarios, s)
	}
	return scenarios, nil
}

func (s *Scenario) orderID() string {
	if s.OrderID != "" {
		return s.OrderID
	}
	return DefaultOrderID
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if s.Draw < 0 || s.Draw >= 1 {
		return fmt.Errorf("draw must be in [0, 1), got %v", s.Draw)
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	var errs []error
	watched := false
	for i, step := range s.Steps {
		if err := validateStep(step); err != nil {
			errs = append(errs, fmt.Errorf("steps[%d]: %w", i, err))
		}
		if step.Watch {
			if watched {
				errs = append(errs, fmt.Errorf("steps[%d]: session is already watched", i))
			}
			watched = true
		}
	}
	return errors.Join(errs...)
}

func validateStep(step Step) error {
	if step.At < 0 {
		return fmt.Errorf("at must not be negative")
	}
	if step.At%time.Second != 0 {
		return fmt.Errorf("at must be a whole number of seconds, got %s", step.At)
	}

	if step.FailPolls == nil && !step.Watch && step.Push == nil && !step.Refresh && !step.Retry && step.Expect == nil {
		return fmt.Errorf("step does nothing")
	}

	if step.Push != nil {
		if _, err := order.ParseStatus(step.Push.Status); err != nil {
			return fmt.Errorf("push: %w", err)
		}
	}

	if e := step.Expect; e != nil {
		if e.State != "" && !validState(reconcile.State(e.State)) {
			return fmt.Errorf("expect: unknown state %q", e.State)
		}
		if e.Source != "" && e.Source != string(reconcile.SourcePolling) && e.Source != string(reconcile.SourceWebhook) {
			return fmt.Errorf("expect: unknown source %q", e.Source)
		}
		if e.Status != "" {
			if _, err := order.ParseStatus(e.Status); err != nil {
				return fmt.Errorf("expect: %w", err)
			}
		}
		if e.RetryCount != nil && *e.RetryCount < 0 {
			return fmt.Errorf("expect: retry_count must be non-negative")
		}
	}
	return nil
}

func validState(s reconcile.State) bool {
	switch s {
	case reconcile.StateWatching, reconcile.StateFinalized, reconcile.StateTimedOut,
		reconcile.StateAborted, reconcile.StateCancelled:
		return true
	}
	return false
}
