package ldscore

import "fmt"

// ConfigError reports an invalid or self-contradictory configuration,
// detected before any computation starts.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error (%s): %s", e.Field, e.Message)
}

// AlignmentError reports inputs whose SNP ordering, count, or identity
// disagree, so correct results cannot be guaranteed.
type AlignmentError struct {
	Message string
}

func (e *AlignmentError) Error() string {
	return "alignment error: " + e.Message
}
