package testutil

import (
	"context"
	"strings"
	"testing"

	"github.com/R3E-Network/ajax_layer/internal/app/signals"
)

func TestSQLiteDSN(t *testing.T) {
	dsn := SQLiteDSN(t, "x.db")
	if !strings.HasPrefix(dsn, "file:") || !strings.Contains(dsn, "x.db?") {
		t.Fatalf("unexpected dsn %q", dsn)
	}
}

func TestRecordSignal(t *testing.T) {
	sig := signals.New("created")
	rec := RecordSignal(t, sig)

	sig.Send(context.Background(), signals.Event{Payload: map[string]any{"pk": int64(1)}})
	sig.Send(context.Background(), signals.Event{Payload: map[string]any{"pk": int64(2)}})

	if rec.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", rec.Len())
	}
	if got := rec.Events()[1].Payload["pk"]; got != int64(2) {
		t.Fatalf("second payload pk = %v", got)
	}
}
