package fragcheck

import "fmt"

// Outcome is the verdict for one filesystem case.
type Outcome int

const (
	// Pass: extents parsed and every invariant held.
	Pass Outcome = iota
	// Fail: extents parsed but violated an invariant, or file content read
	// back through the extent map did not match. The defect this tool
	// exists to find.
	Fail
	// Error: the case could not be judged — provisioning failed or the
	// tool output was unrecognized.
	Error
)

func (o Outcome) String() string {
	switch o {
	case Pass:
		return "PASS"
	case Fail:
		return "FAIL"
	case Error:
		return "ERROR"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// TestResult is the immutable record of one executed filesystem case.
type TestResult struct {
	Filesystem string
	Outcome    Outcome
	// Message carries the diagnostic for Fail and Error outcomes; empty for
	// Pass.
	Message string
}

func (r TestResult) String() string {
	if r.Message == "" {
		return fmt.Sprintf("%s: %s", r.Filesystem, r.Outcome)
	}
	return fmt.Sprintf("%s: %s (%s)", r.Filesystem, r.Outcome, r.Message)
}

// Report accumulates case results over a run. It is a plain value threaded
// through the runner; nothing global.
type Report struct {
	results []TestResult
}

// Add records a result. Results are append-only.
func (r *Report) Add(res TestResult) {
	r.results = append(r.results, res)
}

// Results returns the recorded results in execution order.
func (r *Report) Results() []TestResult {
	return r.results
}

// Counts returns how many results are Pass, Fail and Error.
func (r *Report) Counts() (passed, failed, errored int) {
	for _, res := range r.results {
		switch res.Outcome {
		case Pass:
			passed++
		case Fail:
			failed++
		case Error:
			errored++
		}
	}
	return passed, failed, errored
}

// Ok reports whether every executed case passed. An empty report is not ok:
// running zero cases proves nothing.
func (r *Report) Ok() bool {
	if len(r.results) == 0 {
		return false
	}
	for _, res := range r.results {
		if res.Outcome != Pass {
			return false
		}
	}
	return true
}
