package domain

import (
	"fmt"
	"regexp"
)

// PaymentAsset names the ledger asset used to pay for credits.
const PaymentAsset = "payment"

var creditTypeRegex = regexp.MustCompile(`^[A-Z][A-Z0-9_]{0,31}$`)

// Partition is the matching key: credits only trade against credits of the
// same type and vintage year.
type Partition struct {
	CreditType  string
	VintageYear int
}

// CreditAsset names the ledger asset holding credits of this partition.
func (p Partition) CreditAsset() string {
	return fmt.Sprintf("credit:%s:%d", p.CreditType, p.VintageYear)
}

func (p Partition) String() string {
	return fmt.Sprintf("%s/%d", p.CreditType, p.VintageYear)
}

// Validate checks the credit type format and a plausible vintage year.
func (p Partition) Validate() error {
	if !creditTypeRegex.MatchString(p.CreditType) {
		return &ValidationError{Message: "credit_type must match ^[A-Z][A-Z0-9_]{0,31}$"}
	}
	if p.VintageYear < 1990 || p.VintageYear > 2100 {
		return &ValidationError{Message: "vintage_year must be between 1990 and 2100"}
	}
	return nil
}
