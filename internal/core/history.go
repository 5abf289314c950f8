package core

import (
	"sort"
	"strings"
	"time"
)

// PriceQuote is the last known price for a product name together with
// the date of the purchase it came from.
type PriceQuote struct {
	Price Money
	Date  time.Time
}

// LookupLastPrice scans history newest-first for the first purchase
// containing a line item whose trimmed name matches case-insensitively.
// The second return value is false when the product was never bought.
func LookupLastPrice(history []Purchase, name string) (PriceQuote, bool) {
	name = strings.TrimSpace(name)
	if name == "" {
		return PriceQuote{}, false
	}
	for _, p := range history {
		for _, li := range p.Items {
			if strings.EqualFold(strings.TrimSpace(li.Name), name) {
				return PriceQuote{Price: li.Price, Date: p.Date}, true
			}
		}
	}
	return PriceQuote{}, false
}

// PriceChange compares a current price against a quote. The indicator
// is only shown when the absolute difference exceeds one cent, the
// currency-rounding threshold.
func PriceChange(current Money, quote PriceQuote) (diff Money, significant bool) {
	diff = Money{Cents: current.Cents - quote.Price.Cents}
	if diff.Cents > 1 || diff.Cents < -1 {
		significant = true
	}
	return diff, significant
}

// SortHistory orders purchases by date descending, in place. Ties keep
// their relative order so a freshly prepended purchase stays first.
func SortHistory(history []Purchase) {
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Date.After(history[j].Date)
	})
}

// MergeHistory unions local and remote purchases by purchase id, sorted
// by date descending.
//
// The remote record wins on conflict (it carries the server-assigned
// row id), while purchases that only exist locally are kept: a finalize
// performed offline must survive a later successful fetch.
func MergeHistory(local, remote []Purchase) []Purchase {
	merged := make([]Purchase, 0, len(local)+len(remote))
	seen := make(map[string]struct{}, len(remote))
	for _, p := range remote {
		merged = append(merged, p)
		if p.ID != "" {
			seen[p.ID] = struct{}{}
		}
	}
	for _, p := range local {
		if p.ID != "" {
			if _, ok := seen[p.ID]; ok {
				continue
			}
		}
		merged = append(merged, p)
	}
	SortHistory(merged)
	return merged
}

// UnsyncedPurchases returns the purchases that never made it to the
// history service, i.e. those without a server-assigned row id.
func UnsyncedPurchases(history []Purchase) []Purchase {
	var out []Purchase
	for _, p := range history {
		if p.RemoteID == 0 {
			out = append(out, p)
		}
	}
	return out
}
