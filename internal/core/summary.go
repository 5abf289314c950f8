package core

import (
	"sort"
	"time"
)

// DayGroup is the purchases of one calendar day with their total.
type DayGroup struct {
	Key       string // YYYY-MM-DD
	Date      time.Time
	Total     Money
	Purchases []Purchase
}

// MonthDelta compares a month total against the chronologically
// preceding month. Percent is only meaningful when PercentValid is set:
// a preceding month with a zero total offers no basis for comparison.
type MonthDelta struct {
	Amount       Money
	Percent      float64
	PercentValid bool
}

// MonthGroup is the purchases of one calendar month, grouped by day.
type MonthGroup struct {
	Key   string // YYYY-MM
	Year  int
	Month time.Month
	Total Money
	Days  []DayGroup
	// Delta is nil for the oldest month in the history.
	Delta *MonthDelta
}

// GroupHistory buckets purchases by calendar month and day in the given
// location, newest first, with rolling totals at both levels and a
// month-over-month delta.
//
// Grouping keys derive from the purchase's calendar date in loc; the
// app passes the device's local zone, matching how the dates were
// experienced by the user.
func GroupHistory(history []Purchase, loc *time.Location) []MonthGroup {
	if loc == nil {
		loc = time.Local
	}

	type dayAcc struct {
		date      time.Time
		cents     int64
		purchases []Purchase
	}
	type monthAcc struct {
		year  int
		month time.Month
		cents int64
		days  map[string]*dayAcc
	}

	months := make(map[string]*monthAcc)
	for _, p := range history {
		local := p.Date.In(loc)
		mKey := local.Format("2006-01")
		dKey := local.Format("2006-01-02")

		m, ok := months[mKey]
		if !ok {
			m = &monthAcc{year: local.Year(), month: local.Month(), days: make(map[string]*dayAcc)}
			months[mKey] = m
		}
		m.cents += p.Total.Cents

		d, ok := m.days[dKey]
		if !ok {
			y, mo, da := local.Date()
			d = &dayAcc{date: time.Date(y, mo, da, 0, 0, 0, 0, loc)}
			m.days[dKey] = d
		}
		d.cents += p.Total.Cents
		d.purchases = append(d.purchases, p)
	}

	monthKeys := make([]string, 0, len(months))
	for k := range months {
		monthKeys = append(monthKeys, k)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(monthKeys)))

	out := make([]MonthGroup, 0, len(monthKeys))
	for _, mKey := range monthKeys {
		m := months[mKey]
		dayKeys := make([]string, 0, len(m.days))
		for k := range m.days {
			dayKeys = append(dayKeys, k)
		}
		sort.Sort(sort.Reverse(sort.StringSlice(dayKeys)))

		days := make([]DayGroup, 0, len(dayKeys))
		for _, dKey := range dayKeys {
			d := m.days[dKey]
			SortHistory(d.purchases)
			days = append(days, DayGroup{
				Key:       dKey,
				Date:      d.date,
				Total:     Money{Cents: d.cents},
				Purchases: d.purchases,
			})
		}

		out = append(out, MonthGroup{
			Key:   mKey,
			Year:  m.year,
			Month: m.month,
			Total: Money{Cents: m.cents},
			Days:  days,
		})
	}

	// Deltas compare each month with the chronologically preceding one,
	// which in this descending list is the next entry.
	for i := 0; i < len(out)-1; i++ {
		prev := out[i+1]
		delta := &MonthDelta{Amount: Money{Cents: out[i].Total.Cents - prev.Total.Cents}}
		if prev.Total.Cents != 0 {
			delta.Percent = float64(delta.Amount.Cents) / float64(prev.Total.Cents) * 100
			delta.PercentValid = true
		}
		out[i].Delta = delta
	}

	return out
}
