// Package remote speaks the history service's JSON API. The wire types
// here are shared with the server handlers so both ends agree on the
// shape of a stored purchase.
package remote

import (
	"encoding/json"
	"time"

	"cestinha/internal/core"
)

// PurchaseRecord is the wire form of a stored purchase. Budget and
// payment method are nullable on the wire.
type PurchaseRecord struct {
	ID            int64           `json:"id,omitempty"`
	ClientID      string          `json:"clientId,omitempty"`
	Date          time.Time       `json:"date"`
	Total         core.Money      `json:"total"`
	ItemCount     int             `json:"itemCount"`
	Items         []core.LineItem `json:"items"`
	BudgetGoal    *core.Money     `json:"budget"`
	PaymentMethod *string         `json:"paymentMethod"`
}

// FieldUpdateRequest asks the server to patch a single column of a
// stored purchase. The value stays raw JSON so the server can decode
// it according to the named field.
type FieldUpdateRequest struct {
	ID    int64           `json:"id"`
	Field string          `json:"field"`
	Value json.RawMessage `json:"value"`
}

// InsertResponse is returned by a successful purchase insert.
type InsertResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

// ErrorResponse is the body of every non-2xx JSON reply.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// RecordFromPurchase converts a domain purchase to its wire form.
func RecordFromPurchase(p core.Purchase) PurchaseRecord {
	rec := PurchaseRecord{
		ID:        p.RemoteID,
		ClientID:  p.ID,
		Date:      p.Date,
		Total:     p.Total,
		ItemCount: p.ItemCount,
		Items:     p.Items,
	}
	if p.BudgetGoal != nil {
		b := *p.BudgetGoal
		rec.BudgetGoal = &b
	}
	if p.PaymentMethod != "" {
		m := string(p.PaymentMethod)
		rec.PaymentMethod = &m
	}
	return rec
}

// Purchase converts a wire record back into the domain type.
func (r PurchaseRecord) Purchase() core.Purchase {
	p := core.Purchase{
		ID:        r.ClientID,
		RemoteID:  r.ID,
		Date:      r.Date,
		Total:     r.Total,
		ItemCount: r.ItemCount,
		Items:     r.Items,
	}
	if r.BudgetGoal != nil {
		b := *r.BudgetGoal
		p.BudgetGoal = &b
	}
	if r.PaymentMethod != nil {
		p.PaymentMethod = core.PaymentMethod(*r.PaymentMethod)
	}
	return p
}

// RecordsToPurchases converts a wire history page in order.
func RecordsToPurchases(recs []PurchaseRecord) []core.Purchase {
	out := make([]core.Purchase, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Purchase())
	}
	return out
}
