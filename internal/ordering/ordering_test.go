package ordering

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/agrathwohl/pvp/internal/model"
)

func TestStrictView_RejectsGap(t *testing.T) {
	v := NewStrictView(5)
	if err := v.Accept(7); !errors.Is(err, model.ErrOutOfOrder) {
		t.Fatalf("Accept(7) = %v, want out_of_order", err)
	}
	if v.Expected() != 5 {
		t.Fatalf("rejected delivery moved cursor to %d", v.Expected())
	}
	if err := v.Accept(5); err != nil {
		t.Fatalf("Accept(5): %v", err)
	}
	if err := v.Accept(5); !errors.Is(err, model.ErrOutOfOrder) {
		t.Fatalf("duplicate = %v, want out_of_order", err)
	}
	if err := v.Accept(6); err != nil {
		t.Fatalf("Accept(6): %v", err)
	}
}

func TestStrictView_UnsequencedPassesThrough(t *testing.T) {
	v := NewStrictView(0)
	if v.Expected() != 1 {
		t.Fatalf("expected = %d", v.Expected())
	}
	if err := v.Accept(0); err != nil || v.Expected() != 1 {
		t.Fatalf("unsequenced: err=%v expected=%d", err, v.Expected())
	}
}

func TestCausalBuffer_TopologicalRelease(t *testing.T) {
	now := time.Now()
	b := NewCausalBuffer[string](0)
	b.MarkDelivered("a")

	// c depends on b, b depends on a; held in reverse order.
	b.Hold("c", []string{"b"}, "c", now)
	b.Hold("b", []string{"a"}, "b", now)

	var got []string
	for {
		item, ok := b.NextReady()
		if !ok {
			break
		}
		got = append(got, item)
		b.MarkDelivered(item)
	}
	if !slices.Equal(got, []string{"b", "c"}) {
		t.Fatalf("release order = %v", got)
	}
	if b.Len() != 0 {
		t.Fatalf("held = %d", b.Len())
	}
}

func TestCausalBuffer_Missing(t *testing.T) {
	b := NewCausalBuffer[int](0)
	b.MarkDelivered("x")
	if got := b.Missing([]string{"x", "y"}); !slices.Equal(got, []string{"y"}) {
		t.Fatalf("Missing = %v", got)
	}
}

func TestCausalBuffer_Expire(t *testing.T) {
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewCausalBuffer[string](0)
	b.Hold("old", []string{"never"}, "old", t0)
	b.Hold("new", []string{"never"}, "new", t0.Add(20*time.Second))

	got := b.Expire(30*time.Second, t0.Add(30*time.Second))
	if !slices.Equal(got, []string{"old"}) || b.Len() != 1 {
		t.Fatalf("expired = %v, held = %d", got, b.Len())
	}
	if got := b.Expire(0, t0.Add(time.Hour)); got != nil {
		t.Fatalf("zero max age expired %v", got)
	}
}

func TestCausalBuffer_ForgetsOldestBeyondLimit(t *testing.T) {
	b := NewCausalBuffer[int](2)
	b.MarkDelivered("1")
	b.MarkDelivered("2")
	b.MarkDelivered("3")
	if b.Delivered("1") || !b.Delivered("3") {
		t.Fatal("limit not enforced")
	}
}

func TestCausalBuffer_HoldKeepsFirstCopy(t *testing.T) {
	now := time.Now()
	b := NewCausalBuffer[string](0)
	if !b.Hold("p", []string{"dep"}, "first", now) {
		t.Fatal("first Hold refused")
	}
	if b.Hold("p", []string{"dep"}, "second", now) {
		t.Fatal("second Hold of the same id accepted")
	}
	if !b.Held("p") || b.Held("dep") || b.Len() != 1 {
		t.Fatalf("held = %d", b.Len())
	}

	b.MarkDelivered("dep")
	item, ok := b.NextReady()
	if !ok || item != "first" {
		t.Fatalf("NextReady = %q, %v", item, ok)
	}
	if _, ok := b.NextReady(); ok || b.Held("p") {
		t.Fatal("id released twice")
	}
}

func TestCausalBuffer_SetLimit(t *testing.T) {
	b := NewCausalBuffer[int](0)
	if b.Limit() != DefaultDeliveredLimit {
		t.Fatalf("default limit = %d", b.Limit())
	}
	for _, id := range []string{"1", "2", "3", "4"} {
		b.MarkDelivered(id)
	}
	b.SetLimit(2)
	if b.Delivered("2") || !b.Delivered("3") || !b.Delivered("4") {
		t.Fatal("shrinking did not forget the oldest ids")
	}
	b.MarkDelivered("5")
	if b.Delivered("3") || !b.Delivered("5") {
		t.Fatal("new limit not enforced")
	}
}
