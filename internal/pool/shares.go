package pool

import (
	"errors"

	"github.com/holiman/uint256"
)

// ErrOverflow is returned when a share or payout amount does not fit in
// 64 bits.
var ErrOverflow = errors.New("amount overflows uint64")

// initialShares is floor(sqrt(credit × payment)).
func initialShares(credit, payment uint64) (uint64, error) {
	product := new(uint256.Int).Mul(uint256.NewInt(credit), uint256.NewInt(payment))
	return toUint64(new(uint256.Int).Sqrt(product))
}

// proportionalShares is min(credit × total / creditReserve,
// payment × total / paymentReserve).
func proportionalShares(credit, payment, creditReserve, paymentReserve, total uint64) (uint64, error) {
	byCredit := mulDiv(credit, total, creditReserve)
	byPayment := mulDiv(payment, total, paymentReserve)
	if byPayment.Lt(byCredit) {
		return toUint64(byPayment)
	}
	return toUint64(byCredit)
}

// payout is reserve × shares / total.
func payout(reserve, shares, total uint64) (uint64, error) {
	return toUint64(mulDiv(reserve, shares, total))
}

func mulDiv(a, b, d uint64) *uint256.Int {
	z := new(uint256.Int).Mul(uint256.NewInt(a), uint256.NewInt(b))
	return z.Div(z, uint256.NewInt(d))
}

func toUint64(z *uint256.Int) (uint64, error) {
	if !z.IsUint64() {
		return 0, ErrOverflow
	}
	return z.Uint64(), nil
}
