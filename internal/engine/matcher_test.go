package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/efreitasn/carbonexchange/internal/access"
	"github.com/efreitasn/carbonexchange/internal/domain"
	"github.com/efreitasn/carbonexchange/internal/events"
	"github.com/efreitasn/carbonexchange/internal/ledger"
	"github.com/efreitasn/carbonexchange/internal/store"
)

func TestSubmit_LimitSellThenMarketBuy(t *testing.T) {
	env := newTestEnv(t)
	env.fund("seller", vcs2024)
	env.fund("buyer", vcs2024)

	sell := env.submit(newLimitOrder("seller", domain.OrderSideSell, vcs2024, 2500, 100))
	if len(sell.Trades) != 0 {
		t.Fatalf("expected no trades on empty book, got %d", len(sell.Trades))
	}

	buy := env.submit(newMarketOrder("buyer", domain.OrderSideBuy, vcs2024, 60))
	if len(buy.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(buy.Trades))
	}
	tr := buy.Trades[0]
	if tr.Quantity != 60 || tr.Price != 2500 {
		t.Fatalf("expected 60 @ 2500, got %d @ %d", tr.Quantity, tr.Price)
	}
	// notional 150000: taker (buyer) 20 bps, maker (seller) 10 bps.
	if tr.BuyerFee != 300 || tr.SellerFee != 150 {
		t.Fatalf("expected fees 300/150, got %d/%d", tr.BuyerFee, tr.SellerFee)
	}
	if tr.SettlementStatus != domain.SettlementSettled {
		t.Fatalf("expected settled trade, got %s", tr.SettlementStatus)
	}
	if !tr.SettlementDue.Equal(tr.ExecutedAt) {
		t.Fatal("expected settlement due at execution time")
	}

	s, err := env.m.Get(sell.Order.OrderID)
	if err != nil {
		t.Fatalf("get sell: %v", err)
	}
	if sell.Order.Status != domain.OrderStatusActive || sell.Order.FilledQuantity != 0 {
		t.Fatalf("submit result changed after the fill: %s filled %d", sell.Order.Status, sell.Order.FilledQuantity)
	}
	if s.Status != domain.OrderStatusPartiallyFilled || s.RemainingQuantity() != 40 {
		t.Fatalf("expected sell partially filled with 40 left, got %s with %d", s.Status, s.RemainingQuantity())
	}
	if buy.Order.Status != domain.OrderStatusFilled {
		t.Fatalf("expected buy filled, got %s", buy.Order.Status)
	}

	bids, asks := env.m.Depth(vcs2024, 5)
	if len(bids) != 0 || len(asks) != 1 || asks[0].TotalQuantity != 40 {
		t.Fatalf("unexpected depth: bids=%+v asks=%+v", bids, asks)
	}

	snap := env.m.Snapshot(vcs2024)
	if snap.LastPrice != 2500 || snap.Volume24h != 60 || snap.High24h != 2500 || snap.Low24h != 2500 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.BestAsk != 2500 || snap.BestAskSize != 40 || snap.BestBid != 0 {
		t.Fatalf("unexpected top of book: %+v", snap)
	}

	if got := len(env.eventsNamed(events.NameTradeExecuted)); got != 1 {
		t.Fatalf("expected 1 trade event, got %d", got)
	}
	if got := len(env.eventsNamed(events.NameOrderFilled)); got != 2 {
		t.Fatalf("expected 2 fill events, got %d", got)
	}
}

func TestSubmit_PriceTimePriority(t *testing.T) {
	env := newTestEnv(t)
	for _, a := range []string{"s1", "s2", "buyer"} {
		env.fund(a, vcs2024)
	}

	first := env.place(newLimitOrder("s1", domain.OrderSideSell, vcs2024, 2500, 10))
	second := env.place(newLimitOrder("s2", domain.OrderSideSell, vcs2024, 2500, 10))

	res := env.submit(newMarketOrder("buyer", domain.OrderSideBuy, vcs2024, 10))
	if len(res.Trades) != 1 || res.Trades[0].SellOrderID != first.OrderID {
		t.Fatalf("expected the earlier order to fill first, got %+v", res.Trades)
	}
	if second.FilledQuantity != 0 {
		t.Fatalf("expected later order untouched, filled %d", second.FilledQuantity)
	}
}

func TestSubmit_BetterPriceFirstAndMakerPrice(t *testing.T) {
	env := newTestEnv(t)
	for _, a := range []string{"s1", "s2", "buyer"} {
		env.fund(a, vcs2024)
	}
	env.submit(newLimitOrder("s1", domain.OrderSideSell, vcs2024, 2600, 10))
	env.submit(newLimitOrder("s2", domain.OrderSideSell, vcs2024, 2550, 10))

	res := env.submit(newLimitOrder("buyer", domain.OrderSideBuy, vcs2024, 2700, 15))
	if len(res.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(res.Trades))
	}
	if res.Trades[0].Price != 2550 || res.Trades[0].Quantity != 10 {
		t.Fatalf("unexpected first trade: %d @ %d", res.Trades[0].Quantity, res.Trades[0].Price)
	}
	if res.Trades[1].Price != 2600 || res.Trades[1].Quantity != 5 {
		t.Fatalf("unexpected second trade: %d @ %d", res.Trades[1].Quantity, res.Trades[1].Price)
	}
}

func TestSubmit_NonCrossingLimitRests(t *testing.T) {
	env := newTestEnv(t)
	env.fund("seller", vcs2024)
	env.fund("buyer", vcs2024)

	env.submit(newLimitOrder("seller", domain.OrderSideSell, vcs2024, 2600, 10))
	res := env.submit(newLimitOrder("buyer", domain.OrderSideBuy, vcs2024, 2500, 10))

	if len(res.Trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(res.Trades))
	}
	if res.Order.Status != domain.OrderStatusActive {
		t.Fatalf("expected active, got %s", res.Order.Status)
	}
	snap := env.m.Snapshot(vcs2024)
	if snap.BestBid != 2500 || snap.BestAsk != 2600 {
		t.Fatalf("unexpected top of book: %+v", snap)
	}
}

func TestSubmit_MarketOrderIsImmediateOrCancel(t *testing.T) {
	env := newTestEnv(t)
	env.fund("seller", vcs2024)
	env.fund("buyer", vcs2024)

	empty := env.submit(newMarketOrder("buyer", domain.OrderSideBuy, vcs2024, 10))
	if empty.Order.Status != domain.OrderStatusCancelled || empty.Order.CancelledAt == nil {
		t.Fatalf("expected cancelled market order on empty book, got %s", empty.Order.Status)
	}

	env.submit(newLimitOrder("seller", domain.OrderSideSell, vcs2024, 2500, 10))
	res := env.submit(newMarketOrder("buyer", domain.OrderSideBuy, vcs2024, 25))
	if res.Order.FilledQuantity != 10 {
		t.Fatalf("expected 10 filled, got %d", res.Order.FilledQuantity)
	}
	if res.Order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected remainder cancelled, got %s", res.Order.Status)
	}
	if bids, _ := env.m.Depth(vcs2024, 5); len(bids) != 0 {
		t.Fatal("market order must never rest")
	}
}

func TestSubmit_PartitionIsolation(t *testing.T) {
	env := newTestEnv(t)
	env.fund("seller", vcs2023)
	env.fund("buyer", vcs2024)

	env.submit(newLimitOrder("seller", domain.OrderSideSell, vcs2023, 2500, 10))
	res := env.submit(newLimitOrder("buyer", domain.OrderSideBuy, vcs2024, 3000, 10))
	if len(res.Trades) != 0 {
		t.Fatalf("orders of different vintages must not match, got %d trades", len(res.Trades))
	}

	gs := domain.Partition{CreditType: "GS", VintageYear: 2023}
	env.fund("buyer", gs)
	res = env.submit(newLimitOrder("buyer", domain.OrderSideBuy, gs, 3000, 10))
	if len(res.Trades) != 0 {
		t.Fatalf("orders of different credit types must not match, got %d trades", len(res.Trades))
	}
}

func TestSubmit_MinimumFill(t *testing.T) {
	t.Run("resting minimum blocks small taker", func(t *testing.T) {
		env := newTestEnv(t)
		env.fund("seller", vcs2024)
		env.fund("buyer", vcs2024)

		sell := newLimitOrder("seller", domain.OrderSideSell, vcs2024, 2500, 100)
		sell.MinFillQuantity = 50
		env.submit(sell)

		small := env.submit(newLimitOrder("buyer", domain.OrderSideBuy, vcs2024, 2500, 30))
		if len(small.Trades) != 0 {
			t.Fatalf("expected no trade below the resting minimum, got %d", len(small.Trades))
		}
		if small.Order.Status != domain.OrderStatusActive {
			t.Fatalf("expected small bid to rest, got %s", small.Order.Status)
		}

		big := env.submit(newLimitOrder("buyer", domain.OrderSideBuy, vcs2024, 2500, 60))
		if len(big.Trades) != 1 || big.Trades[0].Quantity != 60 {
			t.Fatalf("expected one trade of 60, got %+v", big.Trades)
		}
	})

	t.Run("taker minimum skips small resting order", func(t *testing.T) {
		env := newTestEnv(t)
		for _, a := range []string{"s1", "s2", "buyer"} {
			env.fund(a, vcs2024)
		}
		small := env.place(newLimitOrder("s1", domain.OrderSideSell, vcs2024, 2500, 20))
		env.submit(newLimitOrder("s2", domain.OrderSideSell, vcs2024, 2500, 100))

		buy := newLimitOrder("buyer", domain.OrderSideBuy, vcs2024, 2500, 50)
		buy.MinFillQuantity = 40
		res := env.submit(buy)

		if len(res.Trades) != 1 || res.Trades[0].Quantity != 50 || res.Trades[0].Seller != "s2" {
			t.Fatalf("expected one trade of 50 against s2, got %+v", res.Trades)
		}
		if small.FilledQuantity != 0 {
			t.Fatal("skipped order must not be filled")
		}
	})

	t.Run("matching stops when remainder drops below minimum", func(t *testing.T) {
		env := newTestEnv(t)
		for _, a := range []string{"s1", "s2", "buyer"} {
			env.fund(a, vcs2024)
		}
		env.submit(newLimitOrder("s1", domain.OrderSideSell, vcs2024, 2500, 80))
		env.submit(newLimitOrder("s2", domain.OrderSideSell, vcs2024, 2500, 100))

		buy := newLimitOrder("buyer", domain.OrderSideBuy, vcs2024, 2500, 100)
		buy.MinFillQuantity = 30
		res := env.submit(buy)

		if len(res.Trades) != 1 || res.Trades[0].Quantity != 80 {
			t.Fatalf("expected a single trade of 80, got %+v", res.Trades)
		}
		if res.Order.Status != domain.OrderStatusPartiallyFilled || res.Order.RemainingQuantity() != 20 {
			t.Fatalf("expected 20 left resting, got %s with %d", res.Order.Status, res.Order.RemainingQuantity())
		}
	})
}

func TestSubmit_IcebergSlices(t *testing.T) {
	env := newTestEnv(t)
	for _, a := range []string{"ice", "plain", "buyer"} {
		env.fund(a, vcs2024)
	}
	ice := env.place(newIcebergOrder("ice", domain.OrderSideSell, vcs2024, 2500, 100, 30))
	env.submit(newLimitOrder("plain", domain.OrderSideSell, vcs2024, 2500, 40))

	_, asks := env.m.Depth(vcs2024, 1)
	if asks[0].TotalQuantity != 70 {
		t.Fatalf("expected 30 visible iceberg + 40 plain, got %d", asks[0].TotalQuantity)
	}

	res := env.submit(newMarketOrder("buyer", domain.OrderSideBuy, vcs2024, 50))
	if len(res.Trades) != 2 {
		t.Fatalf("expected 2 trades, got %d", len(res.Trades))
	}
	if res.Trades[0].Seller != "ice" || res.Trades[0].Quantity != 30 {
		t.Fatalf("expected first fill to take the visible slice, got %+v", res.Trades[0])
	}
	// The refilled slice queued behind the plain order.
	if res.Trades[1].Seller != "plain" || res.Trades[1].Quantity != 20 {
		t.Fatalf("expected second fill from the plain order, got %+v", res.Trades[1])
	}
	if ice.VisibleQuantity != 30 || ice.RemainingQuantity() != 70 {
		t.Fatalf("expected a fresh 30 slice of 70, got %d of %d", ice.VisibleQuantity, ice.RemainingQuantity())
	}
}

func TestSubmit_IcebergSliceBelowMinFillIsRefilled(t *testing.T) {
	env := newTestEnv(t)
	for _, a := range []string{"ice", "b1", "b2"} {
		env.fund(a, vcs2024)
	}
	ice := newIcebergOrder("ice", domain.OrderSideSell, vcs2024, 2500, 30, 10)
	ice.MinFillQuantity = 8
	env.place(ice)

	first := env.submit(newLimitOrder("b1", domain.OrderSideBuy, vcs2024, 2500, 8))
	if len(first.Trades) != 1 || first.Trades[0].Quantity != 8 {
		t.Fatalf("expected a fill of 8, got %+v", first.Trades)
	}
	// Two credits left in the slice would sit under the 8 minimum forever.
	if ice.VisibleQuantity != 10 {
		t.Fatalf("expected the slice refilled to 10, got %d", ice.VisibleQuantity)
	}
	if _, asks := env.m.Depth(vcs2024, 1); len(asks) != 1 || asks[0].TotalQuantity != 10 {
		t.Fatalf("expected 10 visible at 2500, got %+v", asks)
	}

	second := env.submit(newMarketOrder("b2", domain.OrderSideBuy, vcs2024, 10))
	if len(second.Trades) != 1 || second.Trades[0].Quantity != 10 {
		t.Fatalf("expected the refilled slice to fill 10, got %+v", second.Trades)
	}
	if ice.RemainingQuantity() != 12 || ice.VisibleQuantity != 10 {
		t.Fatalf("expected 10 visible of 12, got %d of %d", ice.VisibleQuantity, ice.RemainingQuantity())
	}
}

func TestSubmit_StopOrders(t *testing.T) {
	env := newTestEnv(t)
	for _, a := range []string{"seller", "buyer", "stopper"} {
		env.fund(a, vcs2024)
	}
	env.submit(newLimitOrder("seller", domain.OrderSideSell, vcs2024, 2500, 20))

	stop := env.submit(newStopOrder("stopper", domain.OrderSideBuy, vcs2024, 2500, 5))
	if len(stop.Trades) != 0 || stop.Order.Triggered {
		t.Fatal("stop must wait without a last trade price")
	}
	if env.m.PendingStops(vcs2024) != 1 {
		t.Fatalf("expected 1 pending stop, got %d", env.m.PendingStops(vcs2024))
	}

	res := env.submit(newMarketOrder("buyer", domain.OrderSideBuy, vcs2024, 10))
	if len(res.Trades) != 2 {
		t.Fatalf("expected the trade and the triggered stop's trade, got %d", len(res.Trades))
	}
	if len(res.Triggered) != 1 || res.Triggered[0].OrderID != stop.Order.OrderID {
		t.Fatalf("expected the stop to be reported as triggered")
	}
	if fired := res.Triggered[0]; fired.Status != domain.OrderStatusFilled || !fired.Triggered {
		t.Fatalf("expected triggered stop to fill, got %s", fired.Status)
	}
	if env.m.PendingStops(vcs2024) != 0 {
		t.Fatal("expected trigger queue to be empty")
	}
	if got := len(env.eventsNamed(events.NameOrderTriggered)); got != 1 {
		t.Fatalf("expected 1 trigger event, got %d", got)
	}

	// Last price is 2500; a sell stop at 2600 fires on submission and, as a
	// stop-limit at 2400, rests once nothing crosses.
	sl := newStopOrder("seller", domain.OrderSideSell, vcs2024, 2600, 5)
	sl.Kind = domain.OrderKindStopLimit
	sl.Price = 2400
	sres := env.submit(sl)
	if !sres.Order.Triggered || sres.Order.Status != domain.OrderStatusActive {
		t.Fatalf("expected immediately triggered resting stop-limit, got triggered=%v %s",
			sres.Order.Triggered, sres.Order.Status)
	}
	snap := env.m.Snapshot(vcs2024)
	if snap.BestAsk != 2400 {
		t.Fatalf("expected stop-limit resting at 2400, got %d", snap.BestAsk)
	}
}

func TestSubmit_CircuitBreakerHaltsMatching(t *testing.T) {
	env := newTestEnv(t)
	for _, a := range []string{"seller", "buyer"} {
		env.fund(a, vcs2024)
	}
	env.submit(newLimitOrder("seller", domain.OrderSideSell, vcs2024, 2500, 10))
	env.submit(newMarketOrder("buyer", domain.OrderSideBuy, vcs2024, 10))

	env.submit(newLimitOrder("seller", domain.OrderSideSell, vcs2024, 2800, 10))
	res := env.submit(newMarketOrder("buyer", domain.OrderSideBuy, vcs2024, 10))
	if !res.Halted || len(res.Trades) != 0 {
		t.Fatalf("expected a halted submission with no trades, got halted=%v trades=%d", res.Halted, len(res.Trades))
	}
	if res.Order.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected market order cancelled, got %s", res.Order.Status)
	}
	trips := env.eventsNamed(events.NameCircuitBreakerTriggered)
	if len(trips) != 1 {
		t.Fatalf("expected 1 breaker event, got %d", len(trips))
	}
	if d := trips[0].(events.CircuitBreakerTriggered).Deviation; d != "0.1200" {
		t.Fatalf("expected deviation 0.1200, got %s", d)
	}

	// A limit order during the halt rests instead of trading.
	bid := env.submit(newLimitOrder("buyer", domain.OrderSideBuy, vcs2024, 2800, 5))
	if !bid.Halted || bid.Order.Status != domain.OrderStatusActive {
		t.Fatalf("expected resting bid during halt, got %s", bid.Order.Status)
	}
}

func TestSubmit_LazyExpiry(t *testing.T) {
	env := newTestEnv(t)
	env.fund("seller", vcs2024)

	o := newLimitOrder("seller", domain.OrderSideSell, vcs2024, 2500, 10)
	expires := env.now.Add(time.Hour)
	o.ExpiresAt = &expires
	env.submit(o)

	env.advance(30 * time.Minute)
	if _, asks := env.m.Depth(vcs2024, 5); len(asks) != 1 {
		t.Fatal("order should rest before its expiry")
	}

	env.advance(time.Hour)
	if o.Status != domain.OrderStatusActive {
		t.Fatal("expiry is applied lazily, not by a timer")
	}
	got, err := env.m.Get(o.OrderID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != domain.OrderStatusExpired || got.ExpiredAt == nil || !got.ExpiredAt.Equal(expires) {
		t.Fatalf("expected expired at %v, got %s at %v", expires, got.Status, got.ExpiredAt)
	}
	if _, asks := env.m.Depth(vcs2024, 5); len(asks) != 0 {
		t.Fatal("expired order must leave the book")
	}
	if got := len(env.eventsNamed(events.NameOrderExpired)); got != 1 {
		t.Fatalf("expected 1 expiry event, got %d", got)
	}
}

func TestRunSweeper_ExpiresIdlePartitions(t *testing.T) {
	env := newTestEnv(t)
	env.fund("seller", vcs2024)
	env.fund("seller", vcs2023)

	var expiring []*domain.Order
	for _, p := range []domain.Partition{vcs2024, vcs2023} {
		o := newLimitOrder("seller", domain.OrderSideSell, p, 2500, 10)
		expires := env.now.Add(time.Minute)
		o.ExpiresAt = &expires
		env.submit(o)
		expiring = append(expiring, o)
	}
	env.advance(2 * time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		env.m.RunSweeper(ctx, 5*time.Millisecond)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	for _, o := range expiring {
		if o.Status != domain.OrderStatusExpired {
			t.Errorf("order in %s: status %s, want expired", o.Partition, o.Status)
		}
	}
	if got := len(env.eventsNamed(events.NameOrderExpired)); got != 2 {
		t.Fatalf("expected 2 expiry events, got %d", got)
	}
}

func TestCancel(t *testing.T) {
	env := newTestEnv(t)
	env.fund("seller", vcs2024)
	env.fund("buyer", vcs2024)
	if err := env.access.Grant("admin", "ops", access.RoleOperator); err != nil {
		t.Fatalf("grant: %v", err)
	}

	a := env.place(newLimitOrder("seller", domain.OrderSideSell, vcs2024, 2500, 10))
	b := env.place(newLimitOrder("seller", domain.OrderSideSell, vcs2024, 2600, 10))

	_, err := env.m.Cancel("stranger", a.OrderID)
	var authErr *domain.AuthorizationError
	if !errors.As(err, &authErr) {
		t.Fatalf("expected AuthorizationError, got %v", err)
	}

	got, err := env.m.Cancel("seller", a.OrderID)
	if err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	if got.Status != domain.OrderStatusCancelled || got.CancelledAt == nil {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}
	if _, err := env.m.Cancel("seller", a.OrderID); !errors.Is(err, domain.ErrOrderNotCancellable) {
		t.Fatalf("expected ErrOrderNotCancellable, got %v", err)
	}

	if _, err := env.m.Cancel("ops", b.OrderID); err != nil {
		t.Fatalf("operator cancel: %v", err)
	}
	if _, asks := env.m.Depth(vcs2024, 5); len(asks) != 0 {
		t.Fatal("cancelled orders must leave the book")
	}

	if _, err := env.m.Cancel("seller", "ord-999"); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestGetAndList_ReturnSnapshots(t *testing.T) {
	env := newTestEnv(t)
	for _, a := range []string{"seller", "buyer"} {
		env.fund(a, vcs2024)
		env.fund(a, vcs2023)
	}
	sell := env.place(newLimitOrder("seller", domain.OrderSideSell, vcs2024, 2500, 50))
	env.place(newLimitOrder("seller", domain.OrderSideSell, vcs2023, 2400, 20))
	bid := env.place(newLimitOrder("seller", domain.OrderSideBuy, vcs2024, 2000, 5))

	got, err := env.m.Get(sell.OrderID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == sell {
		t.Fatal("Get returned the live order")
	}

	res := env.submit(newMarketOrder("buyer", domain.OrderSideBuy, vcs2024, 20))
	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Trades))
	}
	if got.FilledQuantity != 0 || len(got.Trades) != 0 {
		t.Fatalf("snapshot changed after a fill: filled %d", got.FilledQuantity)
	}

	all, total := env.m.List("seller", store.OrderFilter{}, nil, 1, 10)
	if total != 3 || all[0].OrderID != bid.OrderID {
		t.Fatalf("expected 3 orders newest first, got %d", total)
	}
	p := vcs2024
	bySide, total := env.m.List("seller", store.OrderFilter{Partition: &p, Side: domain.OrderSideSell}, nil, 1, 10)
	if total != 1 || bySide[0].OrderID != sell.OrderID || bySide[0].FilledQuantity != 20 {
		t.Fatalf("expected the partly filled VCS 2024 sell, got %+v", bySide)
	}
	partly := domain.OrderStatusPartiallyFilled
	if _, total := env.m.List("seller", store.OrderFilter{}, &partly, 1, 10); total != 1 {
		t.Fatalf("expected 1 partially filled order, got %d", total)
	}
	page, total := env.m.List("seller", store.OrderFilter{}, nil, 2, 2)
	if total != 3 || len(page) != 1 {
		t.Fatalf("expected the last of 3 on page 2, got %d of %d", len(page), total)
	}

	bySide[0].Status = domain.OrderStatusCancelled
	if sell.Status != domain.OrderStatusPartiallyFilled {
		t.Fatal("mutating a listed snapshot reached the book")
	}
}

func TestList_ExpiresDueOrders(t *testing.T) {
	env := newTestEnv(t)
	env.fund("seller", vcs2024)
	o := newLimitOrder("seller", domain.OrderSideSell, vcs2024, 2500, 10)
	exp := env.now.Add(time.Minute)
	o.ExpiresAt = &exp
	env.place(o)

	env.advance(2 * time.Minute)
	expired := domain.OrderStatusExpired
	got, total := env.m.List("seller", store.OrderFilter{}, &expired, 1, 10)
	if total != 1 || got[0].ExpiredAt == nil {
		t.Fatalf("expected the order expired on listing, got %d", total)
	}
}

func TestCancel_PendingStop(t *testing.T) {
	env := newTestEnv(t)
	stop := env.place(newStopOrder("trader", domain.OrderSideSell, vcs2024, 2000, 5))

	if _, err := env.m.Cancel("trader", stop.OrderID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if env.m.PendingStops(vcs2024) != 0 {
		t.Fatal("cancelled stop must leave the trigger queue")
	}
}

func TestSubmit_UnfundedRestingOrderIsDropped(t *testing.T) {
	env := newTestEnv(t)
	env.fund("buyer", vcs2024)
	env.fund("seller", vcs2024)

	ghost := env.place(newLimitOrder("ghost", domain.OrderSideSell, vcs2024, 2400, 10))
	env.submit(newLimitOrder("seller", domain.OrderSideSell, vcs2024, 2500, 10))

	res := env.submit(newMarketOrder("buyer", domain.OrderSideBuy, vcs2024, 10))
	if ghost.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected unfunded resting order cancelled, got %s", ghost.Status)
	}
	if len(res.Trades) != 1 || res.Trades[0].Seller != "seller" {
		t.Fatalf("expected matching to continue past the unfunded order, got %+v", res.Trades)
	}
}

func TestSubmit_UnfundedTakerIsRejected(t *testing.T) {
	env := newTestEnv(t)
	env.fund("seller", vcs2024)
	env.submit(newLimitOrder("seller", domain.OrderSideSell, vcs2024, 2500, 10))

	res := env.submit(newMarketOrder("broke", domain.OrderSideBuy, vcs2024, 10))
	if res.Order.Status != domain.OrderStatusRejected {
		t.Fatalf("expected rejected, got %s", res.Order.Status)
	}
	if _, asks := env.m.Depth(vcs2024, 5); len(asks) != 1 {
		t.Fatal("the resting order must stay on the book")
	}
}

func TestSubmit_SettlementFailureLeavesOrdersFilled(t *testing.T) {
	mem := ledger.NewMemory("custody")
	faulty := ledger.NewFaulty(mem)
	faulty.FailWhen = func(tr ledger.Transfer) bool {
		return tr.Asset == domain.PaymentAsset && tr.To == "seller"
	}
	env := newTestEnvWithLedger(t, faulty)
	env.ledger = mem
	env.fund("seller", vcs2024)
	env.fund("buyer", vcs2024)

	sell := env.place(newLimitOrder("seller", domain.OrderSideSell, vcs2024, 2500, 10))
	res := env.submit(newMarketOrder("buyer", domain.OrderSideBuy, vcs2024, 10))

	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(res.Trades))
	}
	tr := res.Trades[0]
	if tr.SettlementStatus != domain.SettlementFailed || tr.FailureReason == "" {
		t.Fatalf("expected failed settlement, got %s", tr.SettlementStatus)
	}
	if sell.Status != domain.OrderStatusFilled || res.Order.Status != domain.OrderStatusFilled {
		t.Fatal("order state is not rolled back on settlement failure")
	}
	pending := env.recon.Pending()
	if len(pending) != 1 || pending[0] != tr {
		t.Fatal("expected the trade queued for reconciliation")
	}
	if got := len(env.eventsNamed(events.NameSettlementFailed)); got != 1 {
		t.Fatalf("expected 1 settlement failure event, got %d", got)
	}
	if got, _ := mem.BalanceOf(context.Background(), vcs2024.CreditAsset(), "buyer"); got != 1_000_000 {
		t.Fatalf("credits leg should have been reversed, buyer holds %d", got)
	}
}

func TestSubmit_EventsPublishedOutsideLock(t *testing.T) {
	env := newTestEnv(t)
	env.fund("seller", vcs2024)
	env.fund("buyer", vcs2024)

	bus := events.NewBus()
	var depthSeen int
	bus.Subscribe(func(e events.Event) {
		if e.Name() == events.NameTradeExecuted {
			// Re-entering the matcher would deadlock if still locked.
			_, asks := env.m.Depth(vcs2024, 1)
			depthSeen = len(asks)
		}
	})
	env.m.publisher = bus

	env.submit(newLimitOrder("seller", domain.OrderSideSell, vcs2024, 2500, 20))
	env.submit(newMarketOrder("buyer", domain.OrderSideBuy, vcs2024, 10))
	if depthSeen != 1 {
		t.Fatalf("expected subscriber to observe the book, got %d levels", depthSeen)
	}
}

func TestQuote(t *testing.T) {
	env := newTestEnv(t)
	for _, a := range []string{"s1", "s2"} {
		env.fund(a, vcs2024)
	}
	env.submit(newLimitOrder("s1", domain.OrderSideSell, vcs2024, 2500, 10))
	env.submit(newLimitOrder("s2", domain.OrderSideSell, vcs2024, 2600, 10))

	q := env.m.Quote(vcs2024, domain.OrderSideBuy, 15)
	if !q.FullyFillable || q.QuantityAvailable != 15 {
		t.Fatalf("unexpected quote: %+v", q)
	}
	if *q.EstimatedTotal != 10*2500+5*2600 {
		t.Fatalf("unexpected total %d", *q.EstimatedTotal)
	}
	if len(q.PriceLevels) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(q.PriceLevels))
	}

	none := env.m.Quote(vcs2024, domain.OrderSideSell, 5)
	if none.FullyFillable || none.EstimatedAvgPrice != nil {
		t.Fatalf("expected empty quote, got %+v", none)
	}
}
