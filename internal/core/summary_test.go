package core

import (
	"testing"
	"time"
)

func TestGroupHistoryTotals(t *testing.T) {
	utc := time.UTC
	history := []Purchase{
		purchaseWith("m2d2a", time.Date(2026, 2, 10, 9, 0, 0, 0, utc), item("Milk", 450)),
		purchaseWith("m2d2b", time.Date(2026, 2, 10, 18, 0, 0, 0, utc), item("Rice", 500)),
		purchaseWith("m2d1", time.Date(2026, 2, 3, 12, 0, 0, 0, utc), item("Eggs", 1200)),
		purchaseWith("m1d1", time.Date(2026, 1, 20, 12, 0, 0, 0, utc), item("Bread", 700)),
	}

	groups := GroupHistory(history, utc)
	if len(groups) != 2 {
		t.Fatalf("expected 2 month groups, got %d", len(groups))
	}
	if groups[0].Key != "2026-02" || groups[1].Key != "2026-01" {
		t.Fatalf("expected descending keys, got %s then %s", groups[0].Key, groups[1].Key)
	}

	// Day totals within a month sum to the month total.
	var grand int64
	for _, mg := range groups {
		var daySum int64
		for _, dg := range mg.Days {
			var pSum int64
			for _, p := range dg.Purchases {
				pSum += p.Total.Cents
			}
			if pSum != dg.Total.Cents {
				t.Fatalf("day %s total %d != purchases sum %d", dg.Key, dg.Total.Cents, pSum)
			}
			daySum += dg.Total.Cents
		}
		if daySum != mg.Total.Cents {
			t.Fatalf("month %s total %d != day sum %d", mg.Key, mg.Total.Cents, daySum)
		}
		grand += mg.Total.Cents
	}

	var want int64
	for _, p := range history {
		want += p.Total.Cents
	}
	if grand != want {
		t.Fatalf("grand total %d != history total %d", grand, want)
	}

	feb := groups[0]
	if len(feb.Days) != 2 || feb.Days[0].Key != "2026-02-10" {
		t.Fatalf("expected newest day first in february, got %+v", feb.Days)
	}
}

func TestGroupHistoryMonthDelta(t *testing.T) {
	utc := time.UTC
	history := []Purchase{
		purchaseWith("feb", time.Date(2026, 2, 1, 12, 0, 0, 0, utc), item("a", 1500)),
		purchaseWith("jan", time.Date(2026, 1, 1, 12, 0, 0, 0, utc), item("b", 1000)),
	}

	groups := GroupHistory(history, utc)
	if groups[0].Delta == nil {
		t.Fatalf("newest month should carry a delta")
	}
	if groups[0].Delta.Amount.Cents != 500 {
		t.Fatalf("delta amount = %d, want 500", groups[0].Delta.Amount.Cents)
	}
	if !groups[0].Delta.PercentValid || groups[0].Delta.Percent != 50 {
		t.Fatalf("delta percent = %v (valid=%v), want 50", groups[0].Delta.Percent, groups[0].Delta.PercentValid)
	}
	if groups[1].Delta != nil {
		t.Fatalf("oldest month has nothing to compare against")
	}
}

func TestGroupHistoryZeroPreviousTotal(t *testing.T) {
	utc := time.UTC
	free := Purchase{
		ID:        "jan",
		Date:      time.Date(2026, 1, 1, 12, 0, 0, 0, utc),
		Total:     Money{},
		ItemCount: 0,
	}
	history := []Purchase{
		purchaseWith("feb", time.Date(2026, 2, 1, 12, 0, 0, 0, utc), item("a", 1500)),
		free,
	}

	groups := GroupHistory(history, utc)
	d := groups[0].Delta
	if d == nil || d.Amount.Cents != 1500 {
		t.Fatalf("expected amount delta even against a zero month, got %+v", d)
	}
	if d.PercentValid {
		t.Fatalf("percentage against a zero total must be unavailable")
	}
}

func TestGroupHistoryTimezonePolicy(t *testing.T) {
	// 2026-02-01 01:30 UTC is still January 31st in São Paulo (UTC-3).
	sp := time.FixedZone("America/Sao_Paulo", -3*60*60)
	p := purchaseWith("late-night", time.Date(2026, 2, 1, 1, 30, 0, 0, time.UTC), item("a", 100))

	groups := GroupHistory([]Purchase{p}, sp)
	if groups[0].Key != "2026-01" {
		t.Fatalf("expected local calendar month 2026-01, got %s", groups[0].Key)
	}
	if groups[0].Days[0].Key != "2026-01-31" {
		t.Fatalf("expected local calendar day 2026-01-31, got %s", groups[0].Days[0].Key)
	}
}
