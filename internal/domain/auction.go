package domain

import "time"

// AuctionStatus represents the lifecycle state of an auction.
type AuctionStatus string

const (
	AuctionStatusActive    AuctionStatus = "active"
	AuctionStatusEnded     AuctionStatus = "ended"
	AuctionStatusCancelled AuctionStatus = "cancelled"
)

// Auction is an ascending auction over credits locked by the seller.
// HighestBid is the total amount offered for the whole lot, in cents.
type Auction struct {
	AuctionID     string
	Seller        string
	Partition     Partition
	Quantity      int64
	ReservePrice  int64
	StartTime     time.Time
	EndTime       time.Time
	HighestBid    int64
	HighestBidder string
	BidCount      int
	Status        AuctionStatus
	WinnerFee     int64
	EndedAt       *time.Time
}

// HasBid reports whether any bid has been accepted.
func (a *Auction) HasBid() bool {
	return a.HighestBidder != ""
}
