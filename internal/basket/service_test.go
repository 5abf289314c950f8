package basket

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"cestinha/internal/core"
	"cestinha/internal/localstore"
)

type fakeRemote struct {
	mu        sync.Mutex
	nextID    int64
	inserted  []core.Purchase
	remote    []core.Purchase
	insertErr error
	fetchErr  error
	updates   []string
}

func (f *fakeRemote) FetchRecentHistory(ctx context.Context, limit int) ([]core.Purchase, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]core.Purchase(nil), f.remote...), nil
}

func (f *fakeRemote) InsertPurchase(ctx context.Context, p core.Purchase) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return 0, f.insertErr
	}
	f.nextID++
	f.inserted = append(f.inserted, p)
	return f.nextID, nil
}

func (f *fakeRemote) UpdateField(ctx context.Context, id int64, field string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, field)
	return nil
}

type fakePublisher struct {
	mu        sync.Mutex
	published []core.Purchase
	err       error
}

func (f *fakePublisher) PublishPurchaseSync(ctx context.Context, p core.Purchase) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, p)
	return nil
}

var testClock = time.Date(2026, 2, 10, 15, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, opts Options) *Service {
	t.Helper()
	store, err := localstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return testClock }
	}
	svc, err := NewService(store, opts)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func riceDraft() core.ItemDraft {
	return core.ItemDraft{
		Name:     "Rice",
		Price:    core.Money{Cents: 550},
		Quantity: core.QuantityFromUnits(1),
		Unit:     core.UnitDiscrete,
		Category: core.CategoryGeneral,
	}
}

func waitEvent(t *testing.T, svc *Service) SyncEvent {
	t.Helper()
	select {
	case ev := <-svc.SyncEvents():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for sync event")
		return SyncEvent{}
	}
}

func TestAddItemPersists(t *testing.T) {
	store, err := localstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	svc, err := NewService(store, Options{Location: time.UTC})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := svc.AddItem(riceDraft()); err != nil {
		t.Fatalf("add: %v", err)
	}

	// A fresh service over the same directory sees the item.
	restored, err := NewService(store, Options{Location: time.UTC})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	items := restored.Items()
	if len(items) != 1 || items[0].Name != "Rice" {
		t.Fatalf("restored items = %+v", items)
	}
}

func TestAddItemInvalidDraftLeavesCartUntouched(t *testing.T) {
	svc := newTestService(t, Options{})

	bad := riceDraft()
	bad.Price = core.Money{}

	if _, err := svc.AddItem(bad); !errors.Is(err, core.ErrInvalidPrice) {
		t.Fatalf("err = %v, want ErrInvalidPrice", err)
	}
	if len(svc.Items()) != 0 {
		t.Fatal("cart should stay empty after rejected draft")
	}
}

func TestEditItem(t *testing.T) {
	svc := newTestService(t, Options{})

	li, err := svc.AddItem(riceDraft())
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	updated := riceDraft()
	updated.Name = "Brown rice"
	updated.Price = core.Money{Cents: 790}
	if err := svc.EditItem(li.ID, updated); err != nil {
		t.Fatalf("edit: %v", err)
	}
	items := svc.Items()
	if items[0].ID != li.ID || items[0].Name != "Brown rice" || items[0].Price.Cents != 790 {
		t.Fatalf("edited item = %+v", items[0])
	}

	// The item may have been removed on another screen meanwhile; an
	// edit naming a gone id changes nothing and reports no error.
	if err := svc.EditItem("gone", riceDraft()); err != nil {
		t.Fatalf("edit of an absent id must be a no-op: %v", err)
	}
	if items := svc.Items(); len(items) != 1 || items[0].Name != "Brown rice" {
		t.Fatalf("cart changed by an absent-id edit: %+v", items)
	}
}

func TestClearCartEmptiesAndPersists(t *testing.T) {
	store, err := localstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	svc, err := NewService(store, Options{Location: time.UTC})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if err := svc.SetBudgetGoal(core.Money{Cents: 2000}); err != nil {
		t.Fatalf("set budget: %v", err)
	}
	if _, err := svc.AddItem(riceDraft()); err != nil {
		t.Fatalf("add: %v", err)
	}
	beans := riceDraft()
	beans.Name = "Beans"
	if _, err := svc.AddItem(beans); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := svc.ClearCart(); err != nil {
		t.Fatalf("clear cart: %v", err)
	}
	if len(svc.Items()) != 0 {
		t.Fatal("cart should be empty after clear")
	}
	if svc.BudgetGoal().Cents != 2000 {
		t.Fatal("clearing the cart must keep the budget goal")
	}

	restored, err := NewService(store, Options{Location: time.UTC})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if items := restored.Items(); len(items) != 0 {
		t.Fatalf("cleared cart came back after restart: %+v", items)
	}

	// Clearing an already empty cart is fine.
	if err := svc.ClearCart(); err != nil {
		t.Fatalf("clear of empty cart: %v", err)
	}
}

func TestFinalizePersistFailureKeepsCartOnDisk(t *testing.T) {
	dir := t.TempDir()
	store, err := localstore.New(dir)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	svc, err := NewService(store, Options{Location: time.UTC})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	if _, err := svc.AddItem(riceDraft()); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.OpenReview(); err != nil {
		t.Fatalf("review: %v", err)
	}

	// A directory squatting on the history key makes its save fail.
	blocker := filepath.Join(dir, "purchase-history.json")
	if err := os.Mkdir(blocker, 0755); err != nil {
		t.Fatalf("block history key: %v", err)
	}

	if _, err := svc.Finalize(context.Background(), core.PaymentCash); err == nil {
		t.Fatal("finalize must fail when the history key cannot be written")
	}
	if svc.State() != StateReviewing {
		t.Fatalf("state = %v, want reviewing after rollback", svc.State())
	}
	if len(svc.Items()) != 1 {
		t.Fatalf("in-memory cart = %d items, want 1 after rollback", len(svc.Items()))
	}

	if err := os.Remove(blocker); err != nil {
		t.Fatalf("unblock history key: %v", err)
	}

	// A restart sees the cart exactly as before the failed attempt.
	restored, err := NewService(store, Options{Location: time.UTC})
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if items := restored.Items(); len(items) != 1 || items[0].Name != "Rice" {
		t.Fatalf("cart on disk after failed finalize = %+v, want the original item", items)
	}
	if len(restored.History()) != 0 {
		t.Fatal("no purchase may reach the history when the finalize failed")
	}
}

func TestBudgetRemainingAndProgress(t *testing.T) {
	svc := newTestService(t, Options{})

	if _, ok := svc.Remaining(); ok {
		t.Fatal("remaining should be undefined without a budget")
	}

	if err := svc.SetBudgetGoal(core.Money{Cents: 2000}); err != nil {
		t.Fatalf("set budget: %v", err)
	}
	if _, err := svc.AddItem(riceDraft()); err != nil {
		t.Fatalf("add: %v", err)
	}

	remaining, ok := svc.Remaining()
	if !ok || remaining.Cents != 1450 {
		t.Fatalf("remaining = %+v, %v; want 1450 cents", remaining, ok)
	}
	if got := svc.Progress(); got != 27.5 {
		t.Fatalf("progress = %v, want 27.5", got)
	}

	// Negative input clears the goal.
	if err := svc.SetBudgetGoal(core.Money{Cents: -100}); err != nil {
		t.Fatalf("clear budget: %v", err)
	}
	if _, ok := svc.Remaining(); ok {
		t.Fatal("remaining should be undefined after clearing the budget")
	}
}

func TestReviewFlow(t *testing.T) {
	svc := newTestService(t, Options{})

	if err := svc.OpenReview(); !errors.Is(err, core.ErrEmptyCart) {
		t.Fatalf("review of empty cart: err = %v, want ErrEmptyCart", err)
	}

	if _, err := svc.AddItem(riceDraft()); err != nil {
		t.Fatalf("add: %v", err)
	}
	if _, err := svc.Finalize(context.Background(), core.PaymentPix); !errors.Is(err, core.ErrNotReviewing) {
		t.Fatalf("finalize without review: err = %v, want ErrNotReviewing", err)
	}

	if err := svc.OpenReview(); err != nil {
		t.Fatalf("open review: %v", err)
	}
	if svc.State() != StateReviewing {
		t.Fatalf("state = %v, want reviewing", svc.State())
	}
	if err := svc.CancelReview(); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if svc.State() != StateIdle {
		t.Fatalf("state = %v, want idle after cancel", svc.State())
	}
	if len(svc.Items()) != 1 {
		t.Fatal("cancel must keep the cart")
	}
}

func TestFinalizeSnapshot(t *testing.T) {
	remote := &fakeRemote{}
	svc := newTestService(t, Options{Remote: remote})

	if err := svc.SetBudgetGoal(core.Money{Cents: 2000}); err != nil {
		t.Fatalf("set budget: %v", err)
	}
	if _, err := svc.AddItem(riceDraft()); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.OpenReview(); err != nil {
		t.Fatalf("review: %v", err)
	}

	p, err := svc.Finalize(context.Background(), core.PaymentPix)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}

	if p.ID == "" {
		t.Error("purchase needs a client id")
	}
	if !p.Date.Equal(testClock) {
		t.Errorf("date = %v, want %v", p.Date, testClock)
	}
	if p.Total.Cents != 550 || p.ItemCount != 1 {
		t.Errorf("snapshot totals wrong: %+v", p)
	}
	if p.BudgetGoal == nil || p.BudgetGoal.Cents != 2000 {
		t.Errorf("budget goal = %+v, want 2000 cents", p.BudgetGoal)
	}
	if p.PaymentMethod != core.PaymentPix {
		t.Errorf("payment = %q, want pix", p.PaymentMethod)
	}

	if svc.Total().Cents != 0 || len(svc.Items()) != 0 {
		t.Error("cart must be empty after finalize")
	}
	if svc.BudgetGoal().Cents != 0 {
		t.Error("budget goal must reset after finalize")
	}
	if svc.State() != StateIdle {
		t.Errorf("state = %v, want idle", svc.State())
	}
	if h := svc.History(); len(h) != 1 || h[0].ID != p.ID {
		t.Errorf("history = %+v, want the new purchase first", h)
	}

	ev := waitEvent(t, svc)
	if ev.Err != nil || ev.RemoteID == 0 {
		t.Fatalf("sync event = %+v, want success with remote id", ev)
	}
	if h := svc.History(); h[0].RemoteID != ev.RemoteID {
		t.Errorf("remote id not stamped on history: %+v", h[0])
	}
}

func TestFinalizePrefersBroker(t *testing.T) {
	remote := &fakeRemote{}
	pub := &fakePublisher{}
	svc := newTestService(t, Options{Remote: remote, Publisher: pub})

	if _, err := svc.AddItem(riceDraft()); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.OpenReview(); err != nil {
		t.Fatalf("review: %v", err)
	}
	if _, err := svc.Finalize(context.Background(), core.PaymentCash); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	ev := waitEvent(t, svc)
	if !ev.Queued || ev.Err != nil {
		t.Fatalf("event = %+v, want queued", ev)
	}
	if len(pub.published) != 1 {
		t.Fatalf("broker publishes = %d, want 1", len(pub.published))
	}
	if len(remote.inserted) != 0 {
		t.Fatal("HTTP fallback should not fire when the broker accepts")
	}
}

func TestFinalizeFallsBackToHTTP(t *testing.T) {
	remote := &fakeRemote{}
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := newTestService(t, Options{Remote: remote, Publisher: pub})

	if _, err := svc.AddItem(riceDraft()); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.OpenReview(); err != nil {
		t.Fatalf("review: %v", err)
	}
	if _, err := svc.Finalize(context.Background(), core.PaymentCash); err != nil {
		t.Fatalf("finalize: %v", err)
	}

	ev := waitEvent(t, svc)
	if ev.Err != nil || ev.RemoteID == 0 {
		t.Fatalf("event = %+v, want HTTP fallback success", ev)
	}
	if len(remote.inserted) != 1 {
		t.Fatalf("fallback inserts = %d, want 1", len(remote.inserted))
	}
}

func TestFinalizeOfflineKeepsPurchaseUnsynced(t *testing.T) {
	remote := &fakeRemote{insertErr: errors.New("network unreachable")}
	svc := newTestService(t, Options{Remote: remote})

	if _, err := svc.AddItem(riceDraft()); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.OpenReview(); err != nil {
		t.Fatalf("review: %v", err)
	}
	p, err := svc.Finalize(context.Background(), core.PaymentDebit)
	if err != nil {
		t.Fatalf("finalize must succeed offline: %v", err)
	}

	ev := waitEvent(t, svc)
	if ev.Err == nil {
		t.Fatalf("event = %+v, want sync failure", ev)
	}
	if h := svc.History(); len(h) != 1 || h[0].RemoteID != 0 {
		t.Fatalf("purchase should stay local and unsynced: %+v", h)
	}

	// Connectivity returns; the next refresh republishes it.
	remote.mu.Lock()
	remote.insertErr = nil
	remote.mu.Unlock()

	merged, err := svc.RefreshHistory(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(merged) != 1 || merged[0].ID != p.ID || merged[0].RemoteID == 0 {
		t.Fatalf("refresh should republish and stamp the purchase: %+v", merged)
	}
}

func TestRefreshHistoryMergesById(t *testing.T) {
	localOnly := core.Purchase{
		ID:        "local-only",
		Date:      testClock.Add(-24 * time.Hour),
		Total:     core.Money{Cents: 300},
		ItemCount: 0,
	}
	shared := core.Purchase{
		ID:        "shared",
		RemoteID:  9,
		Date:      testClock,
		Total:     core.Money{Cents: 700},
		ItemCount: 0,
	}

	store, err := localstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	// Both already synced locally so no republish kicks in.
	localOnly.RemoteID = 5
	if err := store.SaveHistory([]core.Purchase{shared, localOnly}); err != nil {
		t.Fatalf("seed history: %v", err)
	}

	remote := &fakeRemote{remote: []core.Purchase{shared}}
	svc, err := NewService(store, Options{Remote: remote, Location: time.UTC})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	merged, err := svc.RefreshHistory(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if len(merged) != 2 {
		t.Fatalf("merged length = %d, want 2 (local-only survives)", len(merged))
	}
	if merged[0].ID != "shared" || merged[1].ID != "local-only" {
		t.Fatalf("merged order wrong: %s, %s", merged[0].ID, merged[1].ID)
	}
}

func TestDeleteAndClearAreLocalOnly(t *testing.T) {
	remote := &fakeRemote{}
	svc := newTestService(t, Options{Remote: remote})

	if _, err := svc.AddItem(riceDraft()); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.OpenReview(); err != nil {
		t.Fatalf("review: %v", err)
	}
	p, err := svc.Finalize(context.Background(), core.PaymentCash)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	waitEvent(t, svc)

	if err := svc.DeletePurchase(p.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(svc.History()) != 0 {
		t.Fatal("delete should remove the local record")
	}
	if err := svc.DeletePurchase("missing"); err != nil {
		t.Fatalf("deleting a missing purchase should be a no-op: %v", err)
	}

	if err := svc.ClearHistory(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if len(svc.History()) != 0 {
		t.Fatal("history should be empty after clear")
	}
}

func TestUpdatePurchaseField(t *testing.T) {
	remote := &fakeRemote{}
	svc := newTestService(t, Options{Remote: remote})

	if _, err := svc.AddItem(riceDraft()); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.OpenReview(); err != nil {
		t.Fatalf("review: %v", err)
	}
	p, err := svc.Finalize(context.Background(), core.PaymentCash)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	waitEvent(t, svc)

	if err := svc.UpdatePurchaseField(context.Background(), p.ID, "payment_method", core.PaymentPix); err != nil {
		t.Fatalf("update payment: %v", err)
	}
	if h := svc.History(); h[0].PaymentMethod != core.PaymentPix {
		t.Errorf("payment = %q, want pix", h[0].PaymentMethod)
	}

	if err := svc.UpdatePurchaseField(context.Background(), p.ID, "budget_goal", core.Money{Cents: 3000}); err != nil {
		t.Fatalf("update budget: %v", err)
	}
	if h := svc.History(); h[0].BudgetGoal == nil || h[0].BudgetGoal.Cents != 3000 {
		t.Errorf("budget = %+v, want 3000 cents", h[0].BudgetGoal)
	}

	if err := svc.UpdatePurchaseField(context.Background(), p.ID, "items", "x"); !errors.Is(err, ErrUnknownField) {
		t.Errorf("err = %v, want ErrUnknownField", err)
	}

	// An absent purchase is a no-op, locally and remotely.
	if err := svc.UpdatePurchaseField(context.Background(), "missing", "payment_method", core.PaymentPix); err != nil {
		t.Errorf("update of an absent purchase must be a no-op: %v", err)
	}

	remote.mu.Lock()
	updates := len(remote.updates)
	remote.mu.Unlock()
	if updates != 2 {
		t.Errorf("remote updates = %d, want 2", updates)
	}
}

func TestLookupLastPriceFromHistory(t *testing.T) {
	svc := newTestService(t, Options{})

	if _, err := svc.AddItem(riceDraft()); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := svc.OpenReview(); err != nil {
		t.Fatalf("review: %v", err)
	}
	if _, err := svc.Finalize(context.Background(), core.PaymentCash); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	waitEvent(t, svc)

	quote, ok := svc.LookupLastPrice("  rice ")
	if !ok {
		t.Fatal("expected a quote for a purchased product")
	}
	if quote.Price.Cents != 550 {
		t.Fatalf("quote = %+v, want 550 cents", quote)
	}
	if _, ok := svc.LookupLastPrice("caviar"); ok {
		t.Fatal("unexpected quote for a never-bought product")
	}
}
