// Package basket drives a shopping session: the active cart, the
// budget goal, the review flow and the purchase history kept on the
// device. Every mutation persists locally before anything touches the
// network, so the app works fully offline.
package basket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"cestinha/internal/core"
	"cestinha/internal/localstore"
)

// ErrUnknownField is returned for a purchase field outside the
// editable whitelist.
var ErrUnknownField = errors.New("unknown purchase field")

// State is the session phase. Review gates finalization: a purchase
// can only be created from the confirmation screen.
type State int

const (
	StateIdle State = iota
	StateReviewing
	StateFinalizing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReviewing:
		return "reviewing"
	case StateFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Publisher hands finalized purchases to the message broker.
type Publisher interface {
	PublishPurchaseSync(ctx context.Context, p core.Purchase) error
}

// RemoteHistory is the history service API the basket needs.
type RemoteHistory interface {
	FetchRecentHistory(ctx context.Context, limit int) ([]core.Purchase, error)
	InsertPurchase(ctx context.Context, p core.Purchase) (int64, error)
	UpdateField(ctx context.Context, id int64, field string, value any) error
}

// SyncEvent reports the outcome of one background sync attempt.
type SyncEvent struct {
	PurchaseID string
	RemoteID   int64
	// Queued means the purchase was handed to the broker; the worker
	// will assign the remote id and the next refresh picks it up.
	Queued bool
	Err    error
}

type Options struct {
	// Remote is the direct HTTP fallback and refresh source. May be
	// nil for a fully offline basket.
	Remote RemoteHistory
	// Publisher is the preferred sync path. May be nil; the basket
	// then pushes over HTTP directly.
	Publisher Publisher
	// HistoryLimit caps how many purchases a refresh pulls.
	HistoryLimit int
	// Location resolves purchase dates into calendar days and months.
	// Defaults to time.Local.
	Location *time.Location
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Service is safe for concurrent use; a single mutex covers the whole
// session since operations are short and local.
type Service struct {
	mu sync.Mutex

	store        *localstore.Store
	remote       RemoteHistory
	publisher    Publisher
	historyLimit int
	loc          *time.Location
	now          func() time.Time

	state   State
	cart    *core.Cart
	history []core.Purchase
	budget  core.Money

	syncEvents chan SyncEvent
}

// NewService restores the previous session from the local store.
func NewService(store *localstore.Store, opts Options) (*Service, error) {
	items, err := store.LoadCart()
	if err != nil {
		return nil, fmt.Errorf("load cart: %w", err)
	}
	history, err := store.LoadHistory()
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	budget, err := store.LoadBudget()
	if err != nil {
		return nil, fmt.Errorf("load budget: %w", err)
	}

	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = 50
	}

	core.SortHistory(history)

	return &Service{
		store:        store,
		remote:       opts.Remote,
		publisher:    opts.Publisher,
		historyLimit: limit,
		loc:          loc,
		now:          now,
		state:        StateIdle,
		cart:         core.NewCart(items),
		history:      history,
		budget:       budget,
		syncEvents:   make(chan SyncEvent, 16),
	}, nil
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Service) Items() []core.LineItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Items()
}

func (s *Service) Total() core.Money {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.Total()
}

func (s *Service) BudgetGoal() core.Money {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget
}

// Remaining is budget minus cart total; negative when over budget.
// The second value is false while no budget goal is set.
func (s *Service) Remaining() (core.Money, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.budget.Cents <= 0 {
		return core.Money{}, false
	}
	return core.Money{Cents: s.budget.Cents - s.cart.Total().Cents}, true
}

// Progress is the share of the budget already in the cart, as a
// percentage. It can exceed 100 when over budget.
func (s *Service) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.budget.Cents <= 0 {
		return 0
	}
	return float64(s.cart.Total().Cents) / float64(s.budget.Cents) * 100
}

// AddItem validates and prepends a new line item. On validation
// failure the cart is untouched and the caller re-prompts.
func (s *Service) AddItem(d core.ItemDraft) (core.LineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	li, err := s.cart.Add(d, s.now())
	if err != nil {
		return core.LineItem{}, err
	}
	return li, s.saveCart()
}

// EditItem replaces the named item's fields, keeping its identity.
// Editing an absent id is a no-op; the item may have been removed on
// another screen in the meantime.
func (s *Service) EditItem(id string, d core.ItemDraft) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	found, err := s.cart.Edit(id, d)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}
	return s.saveCart()
}

// RemoveItem deletes one item. Removing an absent id is a no-op.
func (s *Service) RemoveItem(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cart.Remove(id) {
		return nil
	}
	return s.saveCart()
}

// AdjustQuantity steps the item's quantity up or down by its unit
// step, clamped at the unit minimum.
func (s *Service) AdjustQuantity(id string, direction int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cart.AdjustQuantity(id, direction) {
		return nil
	}
	return s.saveCart()
}

// ClearCart empties the cart in one step. The budget goal and the
// history are untouched.
func (s *Service) ClearCart() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cart.IsEmpty() {
		return nil
	}
	s.cart.Clear()
	return s.saveCart()
}

// SetBudgetGoal stores the target for this shopping trip. Negative
// input clears the goal.
func (s *Service) SetBudgetGoal(m core.Money) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m.Cents < 0 {
		m = core.Money{}
	}
	s.budget = m
	return s.store.SaveBudget(m)
}

// LookupLastPrice finds what the product cost the last time it was
// bought, scanning history newest first.
func (s *Service) LookupLastPrice(name string) (core.PriceQuote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.LookupLastPrice(s.history, name)
}

// CategoryBreakdown aggregates the active cart per category.
func (s *Service) CategoryBreakdown() []core.CategoryShare {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cart.CategoryBreakdown()
}

// OpenReview moves to the confirmation screen. The cart must not be
// empty.
func (s *Service) OpenReview() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return fmt.Errorf("cannot review from state %s", s.state)
	}
	if s.cart.IsEmpty() {
		return core.ErrEmptyCart
	}
	s.state = StateReviewing
	return nil
}

// CancelReview returns to the cart without finalizing.
func (s *Service) CancelReview() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReviewing {
		return core.ErrNotReviewing
	}
	s.state = StateIdle
	return nil
}

// Finalize freezes the cart into an immutable purchase, prepends it to
// history, clears the cart and resets the budget goal. The snapshot is
// pushed to the history service in the background; sync failure never
// fails the finalize.
func (s *Service) Finalize(ctx context.Context, method core.PaymentMethod) (core.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateReviewing {
		return core.Purchase{}, core.ErrNotReviewing
	}
	if s.cart.IsEmpty() {
		return core.Purchase{}, core.ErrEmptyCart
	}
	if !method.Valid() {
		return core.Purchase{}, core.ErrNoPaymentMethod
	}

	s.state = StateFinalizing

	items := s.cart.Snapshot()
	p := core.Purchase{
		ID:            uuid.NewString(),
		Date:          s.now().In(s.loc),
		Total:         s.cart.Total(),
		ItemCount:     len(items),
		Items:         items,
		PaymentMethod: method,
	}
	if s.budget.Cents > 0 {
		b := s.budget
		p.BudgetGoal = &b
	}

	s.history = append([]core.Purchase{p}, s.history...)
	s.cart.Clear()
	s.budget = core.Money{}

	if err := s.saveAll(); err != nil {
		// Roll the session back; nothing was published yet.
		s.history = s.history[1:]
		s.cart = core.NewCart(items)
		if p.BudgetGoal != nil {
			s.budget = *p.BudgetGoal
		}
		s.state = StateReviewing
		// Re-persist so keys written before the failure match the
		// rolled-back session again after a restart.
		if rerr := s.saveAll(); rerr != nil {
			slog.Warn("Failed restoring local state after finalize error", "error", rerr)
		}
		return core.Purchase{}, err
	}

	s.state = StateIdle

	go s.pushPurchase(context.WithoutCancel(ctx), p)

	return p, nil
}

// pushPurchase sends a finalized purchase out, preferring the broker
// and falling back to direct HTTP. Runs off the session lock.
func (s *Service) pushPurchase(ctx context.Context, p core.Purchase) {
	if s.publisher != nil {
		err := s.publisher.PublishPurchaseSync(ctx, p)
		if err == nil {
			s.emit(SyncEvent{PurchaseID: p.ID, Queued: true})
			return
		}
		slog.WarnContext(ctx, "Broker publish failed, falling back to HTTP",
			"purchase_id", p.ID, "error", err)
	}

	if s.remote == nil {
		s.emit(SyncEvent{PurchaseID: p.ID, Err: errors.New("no sync path configured")})
		return
	}

	id, err := s.remote.InsertPurchase(ctx, p)
	if err != nil {
		slog.WarnContext(ctx, "Purchase sync failed, will retry on next refresh",
			"purchase_id", p.ID, "error", err)
		s.emit(SyncEvent{PurchaseID: p.ID, Err: err})
		return
	}

	s.markSynced(p.ID, id)
	s.emit(SyncEvent{PurchaseID: p.ID, RemoteID: id})
}

// markSynced stamps the server-assigned row id onto the local record.
func (s *Service) markSynced(purchaseID string, remoteID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.history {
		if s.history[i].ID == purchaseID {
			s.history[i].RemoteID = remoteID
			break
		}
	}
	if err := s.store.SaveHistory(s.history); err != nil {
		slog.Warn("Failed persisting sync state", "purchase_id", purchaseID, "error", err)
	}
}

// RefreshHistory pulls the shared history and merges it with local
// records by purchase id. Purchases that never reached the server are
// republished first, so a device that was offline catches up.
func (s *Service) RefreshHistory(ctx context.Context) ([]core.Purchase, error) {
	if s.remote == nil {
		return s.History(), nil
	}

	for _, p := range core.UnsyncedPurchases(s.History()) {
		id, err := s.remote.InsertPurchase(ctx, p)
		if err != nil {
			slog.WarnContext(ctx, "Republish failed", "purchase_id", p.ID, "error", err)
			continue
		}
		s.markSynced(p.ID, id)
	}

	fetched, err := s.remote.FetchRecentHistory(ctx, s.historyLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = core.MergeHistory(s.history, fetched)
	if err := s.store.SaveHistory(s.history); err != nil {
		return nil, err
	}
	return append([]core.Purchase(nil), s.history...), nil
}

// History returns a copy of the local purchase history, newest first.
func (s *Service) History() []core.Purchase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Purchase(nil), s.history...)
}

// MonthlySummary groups the history into calendar months and days in
// the session's timezone.
func (s *Service) MonthlySummary() []core.MonthGroup {
	s.mu.Lock()
	defer s.mu.Unlock()
	return core.GroupHistory(s.history, s.loc)
}

// DeletePurchase removes a purchase from the device only. The shared
// history keeps its copy; a later refresh will bring it back.
func (s *Service) DeletePurchase(purchaseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.history {
		if s.history[i].ID == purchaseID {
			s.history = append(s.history[:i], s.history[i+1:]...)
			return s.store.SaveHistory(s.history)
		}
	}
	return nil
}

// ClearHistory wipes the local history. Remote records are untouched.
func (s *Service) ClearHistory() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = nil
	return s.store.SaveHistory(nil)
}

// UpdatePurchaseField edits one whitelisted field of a past purchase,
// locally first and then on the history service when the record has
// already been synced. Updating an absent purchase is a no-op.
func (s *Service) UpdatePurchaseField(ctx context.Context, purchaseID, field string, value any) error {
	s.mu.Lock()

	idx := -1
	for i := range s.history {
		if s.history[i].ID == purchaseID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}

	switch field {
	case "payment_method":
		method, ok := value.(core.PaymentMethod)
		if !ok {
			if str, isStr := value.(string); isStr {
				method = core.PaymentMethod(str)
			}
		}
		if value == nil {
			s.history[idx].PaymentMethod = ""
		} else if method.Valid() {
			s.history[idx].PaymentMethod = method
		} else {
			s.mu.Unlock()
			return core.ErrNoPaymentMethod
		}
	case "budget_goal":
		switch v := value.(type) {
		case nil:
			s.history[idx].BudgetGoal = nil
		case core.Money:
			b := v
			s.history[idx].BudgetGoal = &b
		case int64:
			s.history[idx].BudgetGoal = &core.Money{Cents: v}
		default:
			s.mu.Unlock()
			return core.ErrInvalidAmount
		}
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownField, field)
	}

	remoteID := s.history[idx].RemoteID
	err := s.store.SaveHistory(s.history)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if remoteID != 0 && s.remote != nil {
		if err := s.remote.UpdateField(ctx, remoteID, field, wireValue(field, value)); err != nil {
			slog.WarnContext(ctx, "Remote field update failed, local copy kept",
				"purchase_id", purchaseID, "field", field, "error", err)
		}
	}
	return nil
}

// wireValue converts a typed field value to its JSON wire form.
func wireValue(field string, value any) any {
	switch v := value.(type) {
	case core.PaymentMethod:
		return string(v)
	case core.Money:
		return v
	case int64:
		if field == "budget_goal" {
			return core.Money{Cents: v}
		}
		return v
	default:
		return v
	}
}

// SyncEvents exposes background sync outcomes, mainly for tests and
// the CLI status line. The channel is buffered; events are dropped
// when nobody listens.
func (s *Service) SyncEvents() <-chan SyncEvent {
	return s.syncEvents
}

func (s *Service) emit(ev SyncEvent) {
	select {
	case s.syncEvents <- ev:
	default:
	}
}

func (s *Service) saveCart() error {
	return s.store.SaveCart(s.cart.Items())
}

// saveAll persists the whole session. History goes first: it is the
// key most likely to fail (largest document), and failing before the
// cart key is touched keeps the on-disk session intact.
func (s *Service) saveAll() error {
	if err := s.store.SaveHistory(s.history); err != nil {
		return err
	}
	if err := s.store.SaveCart(s.cart.Items()); err != nil {
		return err
	}
	return s.store.SaveBudget(s.budget)
}
