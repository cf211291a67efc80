package domain

import "time"

// MarketSnapshot is derived market data for one partition, rebuilt after
// every trade. Zero prices mean no data.
type MarketSnapshot struct {
	Partition   Partition
	LastPrice   int64
	High24h     int64
	Low24h      int64
	Volume24h   int64
	BestBid     int64
	BestBidSize int64
	BestAsk     int64
	BestAskSize int64
	UpdatedAt   time.Time
}
