package enums

import "fmt"

// FundingSource is the capability that pays for one unit of work.
type FundingSource string

const (
	FundingSourceSubscription FundingSource = "subscription"
	FundingSourceTrial        FundingSource = "trial"
	FundingSourceToken        FundingSource = "token"
)

var validFundingSources = []FundingSource{
	FundingSourceSubscription,
	FundingSourceTrial,
	FundingSourceToken,
}

// String implements fmt.Stringer.
func (f FundingSource) String() string {
	return string(f)
}

// IsValid reports whether the value is one of the three funding sources.
func (f FundingSource) IsValid() bool {
	for _, candidate := range validFundingSources {
		if candidate == f {
			return true
		}
	}
	return false
}

// Metered reports whether spending from this source writes a ledger transaction.
func (f FundingSource) Metered() bool {
	return f == FundingSourceTrial || f == FundingSourceToken
}

// ParseFundingSource converts raw input into a FundingSource.
func ParseFundingSource(value string) (FundingSource, error) {
	for _, candidate := range validFundingSources {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid funding source %q", value)
}
