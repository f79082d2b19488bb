package enums

import "fmt"

// WorkOutcome is the terminal state of a paid work request.
type WorkOutcome string

const (
	WorkOutcomeSuccess WorkOutcome = "success"
	WorkOutcomeFailure WorkOutcome = "failure"
)

// IsValid reports whether the outcome is terminal and known.
func (o WorkOutcome) IsValid() bool {
	return o == WorkOutcomeSuccess || o == WorkOutcomeFailure
}

// ParseWorkOutcome converts raw input into a WorkOutcome.
func ParseWorkOutcome(value string) (WorkOutcome, error) {
	o := WorkOutcome(value)
	if !o.IsValid() {
		return "", fmt.Errorf("invalid work outcome %q", value)
	}
	return o, nil
}
