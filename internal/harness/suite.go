package harness

import "fmt"

// SuiteResult summarizes a run over several scenario files.
type SuiteResult struct {
	Total    int            `json:"total"`
	Passed   int            `json:"passed"`
	Failed   int            `json:"failed"`
	Results  []ScenarioRun  `json:"results"`
	Failures []SuiteFailure `json:"failures,omitempty"`
}

// ScenarioRun pairs a scenario file with its result.
type ScenarioRun struct {
	Path   string  `json:"path"`
	Name   string  `json:"name"`
	Result *Result `json:"result,omitempty"`
}

// SuiteFailure is one scenario that failed to load, run or pass.
type SuiteFailure struct {
	Path   string   `json:"path"`
	Name   string   `json:"name,omitempty"`
	Errors []string `json:"errors"`
}

// RunFiles loads and runs every scenario file in order. A file that fails
// to load or run counts as a failure; the rest still run.
func RunFiles(paths []string, opts ...Option) *SuiteResult {
	out := &SuiteResult{Results: []ScenarioRun{}}
	for _, path := range paths {
		out.Total++

		scenario, err := LoadScenario(path)
		if err != nil {
			out.fail(SuiteFailure{Path: path, Errors: []string{err.Error()}})
			continue
		}

		result, err := Run(scenario, opts...)
		if err != nil {
			out.fail(SuiteFailure{Path: path, Name: scenario.Name, Errors: []string{fmt.Sprintf("run: %v", err)}})
			continue
		}

		out.Results = append(out.Results, ScenarioRun{Path: path, Name: scenario.Name, Result: result})
		if result.Pass {
			out.Passed++
		} else {
			out.fail(SuiteFailure{Path: path, Name: scenario.Name, Errors: result.Errors})
		}
	}
	return out
}

func (s *SuiteResult) fail(f SuiteFailure) {
	s.Failed++
	s.Failures = append(s.Failures, f)
}

// Pass reports whether every scenario passed.
func (s *SuiteResult) Pass() bool { return s.Failed == 0 }
