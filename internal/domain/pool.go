package domain

// LiquidityPosition is a provider's share of a liquidity pool.
type LiquidityPosition struct {
	Provider string
	Shares   uint64
}

// PoolReserves is the pool-wide state a position is measured against.
type PoolReserves struct {
	Partition      Partition
	CreditReserve  uint64
	PaymentReserve uint64
	TotalShares    uint64
	Providers      int
}
