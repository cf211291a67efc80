// Package fee computes trading and auction fees in basis points.
// All results truncate toward zero.
package fee

import "github.com/efreitasn/carbonexchange/internal/domain"

// BasisPointsDenominator is 100%.
const BasisPointsDenominator = 10_000

// Rates are the fee rates applied to a trade or auction, in basis points.
type Rates struct {
	MakerBps   int64
	TakerBps   int64
	AuctionBps int64
}

// Notional is quantity × price. Order admission keeps it within
// domain.MaxNotional, so it and the fees below never overflow.
func Notional(quantity, price int64) int64 {
	return quantity * price
}

// Fee returns notional × bps / 10000, truncated.
func Fee(notional, bps int64) int64 {
	return notional * bps / BasisPointsDenominator
}

// ForTrade splits fees between buyer and seller: the taker side pays the
// taker rate and the resting side pays the maker rate. The combined fee is
// truncated once, and the maker's share is what remains after the taker's
// truncated fee, so the two always sum to notional × (taker+maker) / 10000.
func ForTrade(quantity, price int64, taker domain.OrderSide, r Rates) (buyerFee, sellerFee int64) {
	notional := Notional(quantity, price)
	total := Fee(notional, r.TakerBps+r.MakerBps)
	takerFee := Fee(notional, r.TakerBps)
	makerFee := total - takerFee
	if taker == domain.OrderSideBuy {
		return takerFee, makerFee
	}
	return makerFee, takerFee
}

// ForAuction is the fee withheld from the winning bid.
func ForAuction(winningBid int64, r Rates) int64 {
	return Fee(winningBid, r.AuctionBps)
}
