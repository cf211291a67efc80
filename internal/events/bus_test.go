package events

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestBus_PublishFansOutInOrder(t *testing.T) {
	b := NewBus()
	var got []string
	b.Subscribe(func(ev Event) { got = append(got, "a:"+ev.Name()) })
	b.Subscribe(func(ev Event) { got = append(got, "b:"+ev.Name()) })

	b.Publish(OrderPlaced{OrderID: "ord-1"}, OrderCancelled{OrderID: "ord-1"})

	want := []string{"a:order.placed", "b:order.placed", "a:order.cancelled", "b:order.cancelled"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLogSink_SettlementFailedIsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	LogSink(logger)(SettlementFailed{TradeID: "trd-9", Reason: "ledger down"})
	out := buf.String()
	if !strings.Contains(out, "level=ERROR") || !strings.Contains(out, "trd-9") {
		t.Errorf("unexpected log output: %s", out)
	}
}

func TestNames_Unique(t *testing.T) {
	seen := map[string]bool{}
	for _, n := range Names {
		if seen[n] {
			t.Errorf("duplicate event name %q", n)
		}
		seen[n] = true
	}
}
