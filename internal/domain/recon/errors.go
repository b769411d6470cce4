package recon

import "fmt"

// InvalidInputError marks a malformed transaction or expense field.
// The batch skips the item, logs it, and continues.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %s: %s", e.Field, e.Reason)
}

// ConfigurationError marks an invalid MatchingRule (weights or
// thresholds). It aborts the entire run before any writes.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid matching configuration: %s", e.Reason)
}

// MissingConfigurationError is returned when no MatchingRule exists
// for a company. The engine never silently falls back to defaults.
type MissingConfigurationError struct {
	CompanyID string
}

func (e *MissingConfigurationError) Error() string {
	return fmt.Sprintf("no matching rule configured for company %s", e.CompanyID)
}

// SplitAmountMismatchError rejects a split whose partial amounts do
// not add up to the transaction amount. No partial state is written.
type SplitAmountMismatchError struct {
	TransactionID string
	Expected      float64
	Got           float64
}

func (e *SplitAmountMismatchError) Error() string {
	return fmt.Sprintf("split amounts sum to %.2f, transaction %s amount is %.2f",
		e.Got, e.TransactionID, e.Expected)
}
