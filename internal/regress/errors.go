package regress

import "fmt"

// SingularDesignError reports a design matrix too ill-conditioned to
// solve reliably.
type SingularDesignError struct {
	Cond    float64 // condition number when known, 0 otherwise
	Message string
}

func (e *SingularDesignError) Error() string {
	if e.Cond > 0 {
		return fmt.Sprintf("singular design: %s (condition number %.4g)", e.Message, e.Cond)
	}
	return "singular design: " + e.Message
}

// InvalidPrevalenceError reports a sample or population prevalence
// outside (0, 1).
type InvalidPrevalenceError struct {
	Name  string
	Value float64
}

func (e *InvalidPrevalenceError) Error() string {
	return fmt.Sprintf("invalid prevalence: %s = %g is outside (0, 1)", e.Name, e.Value)
}
