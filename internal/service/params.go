package service

import (
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/efreitasn/carbonexchange/internal/domain"
	"github.com/efreitasn/carbonexchange/internal/params"
)

// UpdateParamsRequest carries a partial update of the market parameters.
// Nil fields keep their current value. Durations are in seconds and the
// breaker threshold is a decimal fraction such as "0.10".
type UpdateParamsRequest struct {
	MakerFeeBps         *int64
	TakerFeeBps         *int64
	AuctionFeeBps       *int64
	MinOrderQuantity    *int64
	MaxOrderQuantity    *int64
	MaxOrderDuration    *int64
	TickSize            *int64
	MaxQuantityPerOrder *int64
	DailyVolumeCap      *int64
	DailyOrderCountCap  *int64
	BreakerThreshold    *string
	BreakerCooldown     *int64
	MaxAuctionDuration  *int64
}

// ParamsService exposes the admin surface over the parameter store.
type ParamsService struct {
	store  *params.Store
	logger *slog.Logger
}

// NewParamsService creates a new ParamsService.
func NewParamsService(s *params.Store, logger *slog.Logger) *ParamsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ParamsService{store: s, logger: logger}
}

// Get returns the parameters in effect.
func (s *ParamsService) Get() params.Params {
	return s.store.Get()
}

// Update applies req on behalf of caller, who must be an admin.
func (s *ParamsService) Update(caller string, req UpdateParamsRequest) (params.Params, error) {
	var threshold *decimal.Decimal
	if req.BreakerThreshold != nil {
		d, err := decimal.NewFromString(*req.BreakerThreshold)
		if err != nil {
			return params.Params{}, &domain.ValidationError{Message: "breaker_threshold must be a decimal number"}
		}
		threshold = &d
	}

	p, err := s.store.Update(caller, func(p *params.Params) {
		setInt(&p.MakerFeeBps, req.MakerFeeBps)
		setInt(&p.TakerFeeBps, req.TakerFeeBps)
		setInt(&p.AuctionFeeBps, req.AuctionFeeBps)
		setInt(&p.MinOrderQuantity, req.MinOrderQuantity)
		setInt(&p.MaxOrderQuantity, req.MaxOrderQuantity)
		setSeconds(&p.MaxOrderDuration, req.MaxOrderDuration)
		setInt(&p.TickSize, req.TickSize)
		setInt(&p.MaxQuantityPerOrder, req.MaxQuantityPerOrder)
		setInt(&p.DailyVolumeCap, req.DailyVolumeCap)
		setInt(&p.DailyOrderCountCap, req.DailyOrderCountCap)
		if threshold != nil {
			p.BreakerThreshold = *threshold
		}
		setSeconds(&p.BreakerCooldown, req.BreakerCooldown)
		setSeconds(&p.MaxAuctionDuration, req.MaxAuctionDuration)
	})
	if err != nil {
		return params.Params{}, err
	}
	s.logger.Info("market params updated",
		slog.String("admin", caller),
		slog.Int64("maker_fee_bps", p.MakerFeeBps),
		slog.Int64("taker_fee_bps", p.TakerFeeBps),
		slog.Int64("auction_fee_bps", p.AuctionFeeBps),
		slog.String("breaker_threshold", p.BreakerThreshold.String()),
	)
	return p, nil
}

func setInt(dst *int64, v *int64) {
	if v != nil {
		*dst = *v
	}
}

func setSeconds(dst *time.Duration, v *int64) {
	if v != nil {
		*dst = time.Duration(*v) * time.Second
	}
}
