package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrInvalidAmount   = errors.New("invalid amount")
	ErrInvalidName     = errors.New("empty item name")
	ErrInvalidPrice    = errors.New("invalid price")
	ErrInvalidQuantity = errors.New("invalid quantity")
	ErrInvalidUnit     = errors.New("invalid unit")
	ErrEmptyCart       = errors.New("cart is empty")
	ErrNoPaymentMethod = errors.New("no payment method selected")
	ErrNotReviewing    = errors.New("no checkout review in progress")
)

// Unit says how a line item is counted: whole pieces or weight.
type Unit string

const (
	UnitDiscrete Unit = "un"
	UnitWeighed  Unit = "kg"
)

// Valid reports whether the unit is one of the closed set.
func (u Unit) Valid() bool {
	return u == UnitDiscrete || u == UnitWeighed
}

// Step is the quantity increment applied by a single adjust action:
// one whole piece for discrete items, 0.1 for weighed ones.
func (u Unit) Step() Quantity {
	if u == UnitWeighed {
		return Quantity{Milli: 100}
	}
	return Quantity{Milli: 1000}
}

// Min is the smallest allowed quantity: 1 piece or 0.05 kg.
func (u Unit) Min() Quantity {
	if u == UnitWeighed {
		return Quantity{Milli: 50}
	}
	return Quantity{Milli: 1000}
}

// Normalize clamps a raw quantity into the unit's valid range. Discrete
// quantities are rounded up to the next whole piece (a partial piece is
// still one piece), weighed ones are already exact to a thousandth.
func (u Unit) Normalize(q Quantity) Quantity {
	if u == UnitDiscrete {
		if rem := q.Milli % 1000; rem != 0 {
			q.Milli += 1000 - rem
		}
	}
	if min := u.Min(); q.Milli < min.Milli {
		return min
	}
	return q
}

// Category identifies a product category from the closed taxonomy.
type Category string

const (
	CategoryGeneral  Category = "geral"
	CategoryProduce  Category = "hortifruti"
	CategoryMeat     Category = "carnes"
	CategoryDairy    Category = "laticinios"
	CategoryCleaning Category = "limpeza"
)

// CategoryInfo is display metadata for a category id.
type CategoryInfo struct {
	ID    Category
	Label string
}

var categoryTable = []CategoryInfo{
	{ID: CategoryGeneral, Label: "Geral"},
	{ID: CategoryProduce, Label: "Hortifruti"},
	{ID: CategoryMeat, Label: "Carnes"},
	{ID: CategoryDairy, Label: "Laticínios"},
	{ID: CategoryCleaning, Label: "Limpeza"},
}

// Categories returns the closed category table in display order.
func Categories() []CategoryInfo {
	return append([]CategoryInfo(nil), categoryTable...)
}

// Info resolves a category id to its metadata. Unknown ids resolve to
// the general category rather than failing.
func (c Category) Info() CategoryInfo {
	for _, ci := range categoryTable {
		if ci.ID == c {
			return ci
		}
	}
	return categoryTable[0]
}

// PaymentMethod identifies how a finalized purchase was paid.
type PaymentMethod string

const (
	PaymentCash   PaymentMethod = "cash"
	PaymentDebit  PaymentMethod = "debit"
	PaymentCredit PaymentMethod = "credit"
	PaymentPix    PaymentMethod = "pix"
)

// PaymentMethodInfo is display metadata for a payment method id.
type PaymentMethodInfo struct {
	ID    PaymentMethod
	Label string
}

var paymentTable = []PaymentMethodInfo{
	{ID: PaymentCash, Label: "Dinheiro"},
	{ID: PaymentDebit, Label: "Débito"},
	{ID: PaymentCredit, Label: "Crédito"},
	{ID: PaymentPix, Label: "Pix"},
}

// PaymentMethods returns the closed payment method table.
func PaymentMethods() []PaymentMethodInfo {
	return append([]PaymentMethodInfo(nil), paymentTable...)
}

// Valid reports whether the payment method is one of the closed set.
// The empty value means "not chosen yet" and is not valid for finalize.
func (p PaymentMethod) Valid() bool {
	for _, pi := range paymentTable {
		if pi.ID == p {
			return true
		}
	}
	return false
}

// LineItem is one product entry in the active cart or frozen inside a
// purchase snapshot. Items are value types; copying a slice of them is
// a deep copy.
type LineItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Price     Money     `json:"price"`
	Quantity  Quantity  `json:"quantity"`
	Unit      Unit      `json:"unit"`
	Category  Category  `json:"category"`
	CreatedAt time.Time `json:"createdAt"`
}

// Total is price times quantity, half-up rounded to a cent.
func (li LineItem) Total() Money {
	return Money{Cents: (li.Price.Cents*li.Quantity.Milli + 500) / 1000}
}

// ItemDraft is user input for adding or editing a line item.
type ItemDraft struct {
	Name     string
	Price    Money
	Quantity Quantity
	Unit     Unit
	Category Category
}

// Validate checks the draft against the cart invariants: a trimmed
// non-empty name, a positive price and a known unit.
func (d ItemDraft) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrInvalidName
	}
	if d.Price.Cents <= 0 {
		return ErrInvalidPrice
	}
	if !d.Unit.Valid() {
		return ErrInvalidUnit
	}
	return nil
}

// materialize turns a validated draft into a line item with a fresh id
// and a normalized quantity.
func (d ItemDraft) materialize(now time.Time) LineItem {
	return LineItem{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(d.Name),
		Price:     d.Price,
		Quantity:  d.Unit.Normalize(d.Quantity),
		Unit:      d.Unit,
		Category:  d.Category,
		CreatedAt: now,
	}
}

// Purchase is an immutable snapshot of a finalized cart. Created exactly
// once at finalize time and never mutated afterwards except by explicit
// delete. ID is client-generated; RemoteID is assigned by the history
// service once the record lands there.
type Purchase struct {
	ID            string        `json:"id"`
	RemoteID      int64         `json:"remoteId,omitempty"`
	Date          time.Time     `json:"date"`
	Total         Money         `json:"total"`
	ItemCount     int           `json:"itemCount"`
	Items         []LineItem    `json:"items"`
	BudgetGoal    *Money        `json:"budget,omitempty"`
	PaymentMethod PaymentMethod `json:"paymentMethod,omitempty"`
}

// Validate checks the invariants the history service relies on.
func (p Purchase) Validate() error {
	if p.Date.IsZero() {
		return errors.New("purchase date cannot be zero")
	}
	if p.Total.Cents < 0 {
		return ErrInvalidAmount
	}
	if p.ItemCount != len(p.Items) {
		return errors.New("item count does not match items")
	}
	return nil
}
