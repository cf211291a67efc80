package engine

import (
	"context"
	"time"

	"github.com/efreitasn/carbonexchange/internal/access"
	"github.com/efreitasn/carbonexchange/internal/domain"
	"github.com/efreitasn/carbonexchange/internal/events"
	"github.com/efreitasn/carbonexchange/internal/ledger"
	"github.com/efreitasn/carbonexchange/internal/params"
	"github.com/efreitasn/carbonexchange/internal/risk"
	"github.com/efreitasn/carbonexchange/internal/settlement"
	"github.com/efreitasn/carbonexchange/internal/store"
)

var (
	vcs2024 = domain.Partition{CreditType: "VCS", VintageYear: 2024}
	vcs2023 = domain.Partition{CreditType: "VCS", VintageYear: 2023}
)

// tb is the part of testing.TB that rapid.T also provides.
type tb interface {
	Helper()
	Fatalf(format string, args ...any)
}

type testEnv struct {
	m      *Matcher
	ledger *ledger.Memory
	access *access.Registry
	guard  *risk.Guard
	recon  *store.ReconciliationQueue
	orders *store.OrderStore
	trades *store.TradeStore
	now    time.Time
	events []events.Event
}

func newTestEnv(t tb) *testEnv {
	return newTestEnvWithLedger(t, nil)
}

// newTestEnvWithLedger builds a matcher settling against l, or against a
// fresh in-memory ledger when l is nil.
func newTestEnvWithLedger(t tb, l ledger.Ledger) *testEnv {
	t.Helper()
	env := &testEnv{
		ledger: ledger.NewMemory("custody"),
		access: access.NewRegistry("admin"),
		recon:  store.NewReconciliationQueue(),
		orders: store.NewOrderStore(),
		trades: store.NewTradeStore(),
		now:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if l == nil {
		l = env.ledger
	}
	ps, err := params.NewStore(params.Defaults(), env.access)
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	clock := func() time.Time { return env.now }

	env.guard = risk.NewGuard(ps, nil)
	env.guard.SetClock(clock)
	coord := settlement.NewCoordinator(l, "fees", env.recon, nil)
	coord.SetClock(clock)

	bus := events.NewBus()
	bus.Subscribe(func(e events.Event) { env.events = append(env.events, e) })

	env.m = NewMatcher(NewBookManager(), env.orders, env.trades, coord, env.guard, ps, env.access, bus, nil)
	env.m.SetClock(clock)
	return env
}

// fund gives account plenty of credits in p and payment.
func (env *testEnv) fund(account string, p domain.Partition) {
	env.ledger.Deposit(p.CreditAsset(), account, 1_000_000)
	env.ledger.Deposit(domain.PaymentAsset, account, 1_000_000_000)
}

func (env *testEnv) submit(o *domain.Order) *SubmitResult {
	return env.m.Submit(context.Background(), o)
}

// place submits o and returns it. The matcher keeps updating o itself,
// unlike the snapshot in the submit result.
func (env *testEnv) place(o *domain.Order) *domain.Order {
	env.m.Submit(context.Background(), o)
	return o
}

func (env *testEnv) advance(d time.Duration) {
	env.now = env.now.Add(d)
}

func (env *testEnv) eventsNamed(name string) []events.Event {
	var out []events.Event
	for _, e := range env.events {
		if e.Name() == name {
			out = append(out, e)
		}
	}
	return out
}

func newLimitOrder(owner string, side domain.OrderSide, p domain.Partition, price, qty int64) *domain.Order {
	return &domain.Order{
		Owner:     owner,
		Kind:      domain.OrderKindLimit,
		Side:      side,
		Partition: p,
		Price:     price,
		Quantity:  qty,
	}
}

func newMarketOrder(owner string, side domain.OrderSide, p domain.Partition, qty int64) *domain.Order {
	return &domain.Order{
		Owner:     owner,
		Kind:      domain.OrderKindMarket,
		Side:      side,
		Partition: p,
		Quantity:  qty,
	}
}

func newIcebergOrder(owner string, side domain.OrderSide, p domain.Partition, price, qty, display int64) *domain.Order {
	o := newLimitOrder(owner, side, p, price, qty)
	o.Kind = domain.OrderKindIcebergLimit
	o.Iceberg = true
	o.DisplayQuantity = display
	return o
}

func newStopOrder(owner string, side domain.OrderSide, p domain.Partition, stop, qty int64) *domain.Order {
	o := newMarketOrder(owner, side, p, qty)
	o.Kind = domain.OrderKindStop
	o.StopPrice = stop
	return o
}
