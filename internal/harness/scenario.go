package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/yardcam/internal/config"
	"github.com/roach88/yardcam/internal/testutil"
)

// Scenario is one yard scenario.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what the scenario checks.
	Description string `yaml:"description"`

	// Config declares regions, compatibility and engine settings.
	Config config.Config `yaml:"config"`

	// Responses script the dispatch client in call order.
	Responses []ResponseSpec `yaml:"responses,omitempty"`

	// Steps drive the engine.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is either an observation burst or a clock advance.
type Step struct {
	Observe *ObserveStep     `yaml:"observe,omitempty"`
	Elapse  *config.Duration `yaml:"elapse,omitempty"`
}

// ObserveStep feeds Frames identical readings for one region.
type ObserveStep struct {
	Region   string `yaml:"region"`
	Occupied bool   `yaml:"occupied"`
	Frames   int    `yaml:"frames,omitempty"`
	Camera   string `yaml:"camera,omitempty"`
}

// ResponseSpec scripts one dispatch client call. The zero value succeeds.
type ResponseSpec struct {
	Status    int    `yaml:"status,omitempty"`
	Rejected  string `yaml:"rejected,omitempty"`
	Transport bool   `yaml:"transport,omitempty"`
}

func (r ResponseSpec) response() testutil.Response {
	switch {
	case r.Transport:
		return testutil.TransportFailure()
	case r.Status != 0 && r.Status != 200:
		return testutil.StatusFailure(r.Status)
	case r.Rejected != "":
		return testutil.Rejected(r.Rejected)
	default:
		return testutil.Response{}
	}
}

// Assertion checks the final state of a run.
type Assertion struct {
	Type    string   `yaml:"type"`
	Start   string   `yaml:"start,omitempty"`
	End     string   `yaml:"end,omitempty"`
	Pairs   []string `yaml:"pairs,omitempty"`
	Count   int      `yaml:"count,omitempty"`
	Value   *bool    `yaml:"value,omitempty"`
	Outcome string   `yaml:"outcome,omitempty"`
	Reason  string   `yaml:"reason,omitempty"`
}

// Assertion type constants.
const (
	AssertDispatched    = "dispatched"
	AssertDispatchCount = "dispatch_count"
	AssertDispatchOrder = "dispatch_order"
	AssertNoDispatch    = "no_dispatch"
	AssertNotified      = "notified"
	AssertAttempts      = "attempts"
	AssertSends         = "sends"
)

// LoadScenario reads and parses a scenario YAML file.
// Unknown fields are rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
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
	return &scenario, nil
}

// ScenarioFiles returns the .yaml and .yml files in dir, sorted.
func ScenarioFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Config.Regions) == 0 {
		return fmt.Errorf("config.regions is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Steps {
		switch {
		case step.Observe != nil && step.Elapse != nil:
			return fmt.Errorf("steps[%d]: observe and elapse are exclusive", i)
		case step.Observe != nil:
			if strings.TrimSpace(step.Observe.Region) == "" {
				return fmt.Errorf("steps[%d].observe: region is required", i)
			}
			if step.Observe.Frames < 0 {
				return fmt.Errorf("steps[%d].observe: frames must be non-negative", i)
			}
		case step.Elapse != nil:
			if step.Elapse.Std() <= 0 {
				return fmt.Errorf("steps[%d]: elapse must be positive", i)
			}
		default:
			return fmt.Errorf("steps[%d]: observe or elapse is required", i)
		}
	}

	for i, r := range s.Responses {
		set := 0
		if r.Status != 0 {
			set++
		}
		if r.Rejected != "" {
			set++
		}
		if r.Transport {
			set++
		}
		if set > 1 {
			return fmt.Errorf("responses[%d]: status, rejected and transport are exclusive", i)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertDispatched:
		if a.Start == "" || a.End == "" {
			return fmt.Errorf("assertions[%d]: start and end are required for dispatched", index)
		}
	case AssertDispatchCount, AssertAttempts, AssertSends:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertDispatchOrder:
		if len(a.Pairs) == 0 {
			return fmt.Errorf("assertions[%d]: pairs list is required for dispatch_order", index)
		}
	case AssertNoDispatch:
	case AssertNotified:
		if a.End == "" {
			return fmt.Errorf("assertions[%d]: end is required for notified", index)
		}
		if a.Value == nil {
			return fmt.Errorf("assertions[%d]: value is required for notified", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
