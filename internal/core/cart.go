package core

import (
	"sort"
	"time"
)

// Cart is the in-progress shopping list: an ordered sequence of line
// items, newest first. The total is always derived from the current
// items; nothing is cached.
type Cart struct {
	items []LineItem
}

// NewCart builds a cart seeded with previously persisted items.
func NewCart(items []LineItem) *Cart {
	return &Cart{items: append([]LineItem(nil), items...)}
}

// Items returns a copy of the current items, newest first.
func (c *Cart) Items() []LineItem {
	return append([]LineItem(nil), c.items...)
}

// Len returns the number of line items.
func (c *Cart) Len() int {
	return len(c.items)
}

// IsEmpty reports whether the cart has no items.
func (c *Cart) IsEmpty() bool {
	return len(c.items) == 0
}

// Total is the sum of price times quantity over the current items.
func (c *Cart) Total() Money {
	var cents int64
	for _, li := range c.items {
		cents += li.Total().Cents
	}
	return Money{Cents: cents}
}

// Add validates the draft and prepends a new line item with a fresh id
// and the given creation time. The cart is untouched on validation
// failure; the caller re-prompts.
func (c *Cart) Add(d ItemDraft, now time.Time) (LineItem, error) {
	if err := d.Validate(); err != nil {
		return LineItem{}, err
	}
	li := d.materialize(now)
	c.items = append([]LineItem{li}, c.items...)
	return li, nil
}

// Edit replaces the item matching id in place, preserving its id and
// creation time. Returns false when the id is not in the cart.
func (c *Cart) Edit(id string, d ItemDraft) (bool, error) {
	if err := d.Validate(); err != nil {
		return false, err
	}
	for i, li := range c.items {
		if li.ID == id {
			c.items[i] = LineItem{
				ID:        li.ID,
				Name:      d.Name,
				Price:     d.Price,
				Quantity:  d.Unit.Normalize(d.Quantity),
				Unit:      d.Unit,
				Category:  d.Category,
				CreatedAt: li.CreatedAt,
			}
			return true, nil
		}
	}
	return false, nil
}

// Remove deletes the first item matching id. Removing an absent id is a
// no-op, not an error.
func (c *Cart) Remove(id string) bool {
	for i, li := range c.items {
		if li.ID == id {
			c.items = append(c.items[:i], c.items[i+1:]...)
			return true
		}
	}
	return false
}

// AdjustQuantity applies one unit-dependent step in the given direction
// and clamps at the unit minimum. Direction is the sign of delta; zero
// is a no-op.
func (c *Cart) AdjustQuantity(id string, direction int) bool {
	if direction == 0 {
		return false
	}
	step := int64(1)
	if direction < 0 {
		step = -1
	}
	for i, li := range c.items {
		if li.ID != id {
			continue
		}
		q := Quantity{Milli: li.Quantity.Milli + step*li.Unit.Step().Milli}
		if min := li.Unit.Min(); q.Milli < min.Milli {
			q = min
		}
		c.items[i].Quantity = q
		return true
	}
	return false
}

// Clear empties the cart.
func (c *Cart) Clear() {
	c.items = nil
}

// Snapshot returns an immutable copy of the items for freezing into a
// purchase. Finalize copies, it never shares identity with the cart.
func (c *Cart) Snapshot() []LineItem {
	return append([]LineItem(nil), c.items...)
}

// CategoryShare is the slice of the cart total attributed to one
// category.
type CategoryShare struct {
	Category CategoryInfo
	Total    Money
	Count    int
	// Percent of the cart total, 0-100; zero when the cart is empty.
	Percent float64
}

// CategoryBreakdown aggregates the active cart per category, largest
// total first. Categories with no spend are omitted.
func (c *Cart) CategoryBreakdown() []CategoryShare {
	total := c.Total()
	var out []CategoryShare
	for _, ci := range categoryTable {
		var cents int64
		count := 0
		for _, li := range c.items {
			if li.Category.Info().ID == ci.ID {
				cents += li.Total().Cents
				count++
			}
		}
		if cents == 0 {
			continue
		}
		share := CategoryShare{Category: ci, Total: Money{Cents: cents}, Count: count}
		if total.Cents > 0 {
			share.Percent = float64(cents) / float64(total.Cents) * 100
		}
		out = append(out, share)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Total.Cents > out[j].Total.Cents
	})
	return out
}
