// Package auction runs ascending auctions over credits locked in custody.
// Bids are for the whole lot and are escrowed in custody until the auction
// ends or they are outbid.
package auction

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/efreitasn/carbonexchange/internal/access"
	"github.com/efreitasn/carbonexchange/internal/compliance"
	"github.com/efreitasn/carbonexchange/internal/domain"
	"github.com/efreitasn/carbonexchange/internal/events"
	"github.com/efreitasn/carbonexchange/internal/fee"
	"github.com/efreitasn/carbonexchange/internal/idgen"
	"github.com/efreitasn/carbonexchange/internal/ledger"
	"github.com/efreitasn/carbonexchange/internal/params"
)

// ParamsSource supplies the auction fee rate and maximum duration.
type ParamsSource interface {
	Get() params.Params
}

// CreateRequest describes a new auction.
type CreateRequest struct {
	Seller       string
	Partition    domain.Partition
	Quantity     int64
	ReservePrice int64
	Duration     time.Duration
}

type transfer struct {
	asset  string
	to     string
	amount int64
}

// Manager owns every auction. A single lock serializes all auction
// operations, independent of the order book partitions.
type Manager struct {
	ledger       ledger.Ledger
	custody      string
	feeRecipient string
	compliance   compliance.Checker
	params       ParamsSource
	access       access.Checker
	publisher    events.Publisher
	logger       *slog.Logger
	seq          *idgen.Sequence
	now          func() time.Time

	mu       sync.Mutex
	auctions map[string]*domain.Auction
}

// NewManager creates a Manager escrowing into custody and paying auction
// fees to feeRecipient.
func NewManager(
	l ledger.Ledger,
	custody, feeRecipient string,
	c compliance.Checker,
	ps ParamsSource,
	checker access.Checker,
	publisher events.Publisher,
	logger *slog.Logger,
) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Manager{
		ledger:       l,
		custody:      custody,
		feeRecipient: feeRecipient,
		compliance:   c,
		params:       ps,
		access:       checker,
		publisher:    publisher,
		logger:       logger,
		seq:          idgen.New("auc"),
		now:          time.Now,
		auctions:     make(map[string]*domain.Auction),
	}
}

// SetClock replaces the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Create locks the lot from the seller into custody and opens the auction.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*domain.Auction, error) {
	p := m.params.Get()
	if err := req.Partition.Validate(); err != nil {
		return nil, err
	}
	if req.Quantity <= 0 {
		return nil, &domain.ValidationError{Message: "quantity must be positive"}
	}
	if req.ReservePrice <= 0 {
		return nil, &domain.ValidationError{Message: "reserve_price must be positive"}
	}
	if req.Duration <= 0 || req.Duration > p.MaxAuctionDuration {
		return nil, &domain.ValidationError{
			Message: fmt.Sprintf("duration must be between 0 and %s", p.MaxAuctionDuration),
		}
	}
	if err := compliance.Check(ctx, m.compliance, req.Seller); err != nil {
		return nil, err
	}

	asset := req.Partition.CreditAsset()

	m.mu.Lock()
	if err := m.requireBalance(ctx, asset, req.Seller, req.Quantity); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if err := m.ledger.TransferFrom(ctx, asset, req.Seller, m.custody, req.Quantity); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("lock auction lot: %w", err)
	}

	now := m.now()
	_, id := m.seq.NextID()
	a := &domain.Auction{
		AuctionID:    id,
		Seller:       req.Seller,
		Partition:    req.Partition,
		Quantity:     req.Quantity,
		ReservePrice: req.ReservePrice,
		StartTime:    now,
		EndTime:      now.Add(req.Duration),
		Status:       domain.AuctionStatusActive,
	}
	m.auctions[id] = a
	snapshot := *a
	m.mu.Unlock()

	m.logger.Info("auction created",
		slog.String("auction_id", id),
		slog.String("seller", req.Seller),
		slog.Int64("quantity", req.Quantity),
		slog.Time("end_time", snapshot.EndTime),
	)
	m.publisher.Publish(events.AuctionCreated{
		AuctionID:    id,
		Seller:       req.Seller,
		Quantity:     req.Quantity,
		ReservePrice: req.ReservePrice,
	})
	return &snapshot, nil
}

// PlaceBid accepts a bid above the current highest and at or above the
// reserve while the auction is open. The previous highest bidder is
// refunded before the new bid is escrowed.
func (m *Manager) PlaceBid(ctx context.Context, auctionID, bidder string, amount int64) (*domain.Auction, error) {
	if amount <= 0 {
		return nil, &domain.ValidationError{Message: "amount must be positive"}
	}
	if err := compliance.Check(ctx, m.compliance, bidder); err != nil {
		return nil, err
	}

	m.mu.Lock()
	a, err := m.activeLocked(auctionID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if !m.now().Before(a.EndTime) {
		m.mu.Unlock()
		return nil, domain.ErrAuctionClosed
	}
	if bidder == a.Seller {
		m.mu.Unlock()
		return nil, &domain.ValidationError{Message: "seller cannot bid on own auction"}
	}
	if amount < a.ReservePrice {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %d is below the reserve of %d", domain.ErrBidTooLow, amount, a.ReservePrice)
	}
	if a.HasBid() && amount <= a.HighestBid {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %d does not exceed the highest bid of %d", domain.ErrBidTooLow, amount, a.HighestBid)
	}

	// The outgoing highest bidder's escrow returns to them if they re-bid.
	available, err := m.ledger.BalanceOf(ctx, domain.PaymentAsset, bidder)
	if err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("balance of %s: %w", bidder, err)
	}
	if bidder == a.HighestBidder {
		available += a.HighestBid
	}
	if available < amount {
		m.mu.Unlock()
		return nil, &domain.InsufficientBalanceError{
			Account: bidder, Asset: domain.PaymentAsset,
			Required: amount, Available: available,
		}
	}

	prevBidder, prevBid := a.HighestBidder, a.HighestBid
	if a.HasBid() {
		if err := m.ledger.Transfer(ctx, domain.PaymentAsset, prevBidder, prevBid); err != nil {
			m.mu.Unlock()
			return nil, fmt.Errorf("refund previous bid: %w", err)
		}
	}
	if err := m.ledger.TransferFrom(ctx, domain.PaymentAsset, bidder, m.custody, amount); err != nil {
		if a.HasBid() {
			if rerr := m.ledger.TransferFrom(ctx, domain.PaymentAsset, prevBidder, m.custody, prevBid); rerr != nil {
				m.logger.Error("restoring outbid escrow failed",
					slog.String("auction_id", auctionID),
					slog.String("bidder", prevBidder),
					slog.String("error", rerr.Error()),
				)
			}
		}
		m.mu.Unlock()
		return nil, fmt.Errorf("escrow bid: %w", err)
	}

	a.HighestBid = amount
	a.HighestBidder = bidder
	a.BidCount++
	snapshot := *a
	m.mu.Unlock()

	m.publisher.Publish(events.BidPlaced{AuctionID: auctionID, Bidder: bidder, Amount: amount})
	return &snapshot, nil
}

// End settles an auction at or after its close time. The winner receives
// the lot and the seller the winning bid less the auction fee; without a
// bid the lot returns to the seller.
func (m *Manager) End(ctx context.Context, auctionID string) (*domain.Auction, error) {
	rates := m.params.Get().FeeRates()

	m.mu.Lock()
	a, err := m.activeLocked(auctionID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	now := m.now()
	if now.Before(a.EndTime) {
		m.mu.Unlock()
		return nil, domain.ErrAuctionNotEnded
	}

	asset := a.Partition.CreditAsset()
	var plan []transfer
	var auctionFee int64
	if a.HasBid() {
		auctionFee = fee.ForAuction(a.HighestBid, rates)
		plan = []transfer{
			{asset, a.HighestBidder, a.Quantity},
			{domain.PaymentAsset, a.Seller, a.HighestBid - auctionFee},
			{domain.PaymentAsset, m.feeRecipient, auctionFee},
		}
	} else {
		plan = []transfer{{asset, a.Seller, a.Quantity}}
	}
	if err := m.releaseAll(ctx, plan); err != nil {
		m.mu.Unlock()
		return nil, err
	}

	a.Status = domain.AuctionStatusEnded
	a.WinnerFee = auctionFee
	a.EndedAt = &now
	snapshot := *a
	m.mu.Unlock()

	m.logger.Info("auction ended",
		slog.String("auction_id", auctionID),
		slog.String("winner", snapshot.HighestBidder),
		slog.Int64("winning_bid", snapshot.HighestBid),
	)
	m.publisher.Publish(events.AuctionEnded{
		AuctionID:  auctionID,
		Winner:     snapshot.HighestBidder,
		WinningBid: snapshot.HighestBid,
	})
	return &snapshot, nil
}

// Cancel withdraws an auction that has not received a bid and returns the
// lot to the seller. Only the seller or an operator may cancel.
func (m *Manager) Cancel(ctx context.Context, caller, auctionID string) (*domain.Auction, error) {
	m.mu.Lock()
	a, err := m.activeLocked(auctionID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if caller != a.Seller {
		if err := m.access.Require(caller, access.RoleOperator, "cancel auction "+auctionID); err != nil {
			m.mu.Unlock()
			return nil, err
		}
	}
	if a.HasBid() {
		m.mu.Unlock()
		return nil, domain.ErrAuctionHasBids
	}
	if err := m.ledger.Transfer(ctx, a.Partition.CreditAsset(), a.Seller, a.Quantity); err != nil {
		m.mu.Unlock()
		return nil, fmt.Errorf("return auction lot: %w", err)
	}
	now := m.now()
	a.Status = domain.AuctionStatusCancelled
	a.EndedAt = &now
	snapshot := *a
	m.mu.Unlock()

	m.publisher.Publish(events.AuctionCancelled{AuctionID: auctionID, Seller: snapshot.Seller})
	return &snapshot, nil
}

// Get returns a copy of an auction.
func (m *Manager) Get(auctionID string) (*domain.Auction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.auctions[auctionID]
	if !ok {
		return nil, domain.ErrAuctionNotFound
	}
	snapshot := *a
	return &snapshot, nil
}

// List returns copies of all auctions, optionally filtered by status,
// ordered by start time.
func (m *Manager) List(status *domain.AuctionStatus) []*domain.Auction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.Auction, 0, len(m.auctions))
	for _, a := range m.auctions {
		if status != nil && a.Status != *status {
			continue
		}
		snapshot := *a
		out = append(out, &snapshot)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].AuctionID < out[j].AuctionID
	})
	return out
}

func (m *Manager) activeLocked(auctionID string) (*domain.Auction, error) {
	a, ok := m.auctions[auctionID]
	if !ok {
		return nil, domain.ErrAuctionNotFound
	}
	if a.Status != domain.AuctionStatusActive {
		return nil, domain.ErrAuctionNotActive
	}
	return a, nil
}

func (m *Manager) requireBalance(ctx context.Context, asset, account string, amount int64) error {
	available, err := m.ledger.BalanceOf(ctx, asset, account)
	if err != nil {
		return fmt.Errorf("balance of %s: %w", account, err)
	}
	if available < amount {
		return &domain.InsufficientBalanceError{
			Account: account, Asset: asset,
			Required: amount, Available: available,
		}
	}
	return nil
}

// releaseAll pays out of custody, taking back completed payouts if one
// fails so the auction can be ended again.
func (m *Manager) releaseAll(ctx context.Context, plan []transfer) error {
	for i, t := range plan {
		if err := m.ledger.Transfer(ctx, t.asset, t.to, t.amount); err != nil {
			for j := i - 1; j >= 0; j-- {
				done := plan[j]
				if rerr := m.ledger.TransferFrom(ctx, done.asset, done.to, m.custody, done.amount); rerr != nil {
					m.logger.Error("reversing auction payout failed",
						slog.String("to", done.to),
						slog.String("error", rerr.Error()),
					)
				}
			}
			return fmt.Errorf("release to %s: %w", t.to, err)
		}
	}
	return nil
}
