package quoter

import (
	"testing"
	"time"

	"gridflow/internal/models"
)

func op(kind models.BatchOp, id string) models.BatchOrder {
	return models.BatchOrder{Op: kind, Symbol: "BTCUSDT", OrderID: id}
}

func TestBudgetDefersAndReplenishes(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := NewActionBudget(2, 2, time.Second)

	ops := []models.BatchOrder{
		op(models.BatchOpPlace, "1"),
		op(models.BatchOpPlace, "2"),
		op(models.BatchOpPlace, "3"),
		op(models.BatchOpPlace, "4"),
	}
	ready := b.Submit(now, ops)
	if len(ready) != 2 || ready[0].OrderID != "1" || ready[1].OrderID != "2" {
		t.Fatalf("first window ready = %v", ready)
	}
	if b.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", b.Pending())
	}

	// Nothing mid-window.
	if got := b.Submit(now.Add(10*time.Millisecond), nil); len(got) != 0 {
		t.Fatalf("mid-window ready = %v", got)
	}

	// Replenished budget releases the deferred actions in order.
	ready = b.Submit(now.Add(time.Second), nil)
	if len(ready) != 2 || ready[0].OrderID != "3" || ready[1].OrderID != "4" {
		t.Fatalf("replenished ready = %v", ready)
	}
	if b.Pending() != 0 {
		t.Fatalf("pending after drain = %d", b.Pending())
	}
}

func TestBudgetCancelLimitIsSeparate(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := NewActionBudget(10, 1, time.Second)

	ready := b.Submit(now, []models.BatchOrder{
		op(models.BatchOpCancel, "1"),
		op(models.BatchOpCancel, "2"),
	})
	if len(ready) != 1 {
		t.Fatalf("cancels released = %d, want 1", len(ready))
	}
	if b.Pending() != 1 {
		t.Fatalf("pending = %d, want 1", b.Pending())
	}

	// Places behind a blocked cancel wait too: order is preserved.
	ready = b.Submit(now, []models.BatchOrder{op(models.BatchOpPlace, "3")})
	if len(ready) != 0 {
		t.Fatalf("place jumped the queue: %v", ready)
	}

	ready = b.Submit(now.Add(time.Second), nil)
	if len(ready) != 2 {
		t.Fatalf("replenished ready = %v", ready)
	}
}

func TestBudgetReplaceKeepsCancels(t *testing.T) {
	now := time.Unix(1700000000, 0)
	b := NewActionBudget(1, 1, time.Second)

	b.Submit(now, []models.BatchOrder{
		op(models.BatchOpPlace, "1"),
		op(models.BatchOpCancel, "2"),
		op(models.BatchOpPlace, "3"),
	})
	if b.Pending() != 2 {
		t.Fatalf("pending = %d, want 2", b.Pending())
	}
	b.Replace()
	if b.Pending() != 1 {
		t.Fatalf("pending after replace = %d, want 1", b.Pending())
	}
	ready := b.Submit(now.Add(time.Second), nil)
	if len(ready) != 1 || ready[0].Op != models.BatchOpCancel {
		t.Fatalf("surviving op = %v", ready)
	}
}
