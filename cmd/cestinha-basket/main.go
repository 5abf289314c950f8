// Command cestinha-basket is the interactive shopping session: a small
// REPL over the basket service. State lives in local JSON files; the
// shared history syncs in the background when the network is up.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"cestinha/internal/amqp"
	"cestinha/internal/basket"
	"cestinha/internal/cli"
	"cestinha/internal/core"
	"cestinha/internal/localstore"
	"cestinha/internal/log"
	"cestinha/internal/remote"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentBasket)

	cfg := cli.LoadAndValidateConfig(logger)

	store, err := localstore.New(cfg.DataDir)
	if err != nil {
		logger.Error("Failed to open local store", "error", err, "dir", cfg.DataDir)
		os.Exit(1)
	}

	opts := basket.Options{
		Remote:       remote.NewClient(cfg.RemoteBaseURL),
		HistoryLimit: cfg.HistoryLimit,
		Location:     time.Local,
	}

	// The broker is optional; without it purchases sync over HTTP.
	if amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue); err != nil {
		logger.Warn("Broker unavailable, syncing over HTTP only", "error", err)
	} else {
		defer amqpClient.Close()
		opts.Publisher = amqpClient
	}

	svc, err := basket.NewService(store, opts)
	if err != nil {
		logger.Error("Failed to restore session", "error", err)
		os.Exit(1)
	}

	go func() {
		for ev := range svc.SyncEvents() {
			switch {
			case ev.Err != nil:
				fmt.Printf("! sync of %s failed: %v (will retry on refresh)\n", short(ev.PurchaseID), ev.Err)
			case ev.Queued:
				fmt.Printf("* purchase %s queued for sync\n", short(ev.PurchaseID))
			default:
				fmt.Printf("* purchase %s synced (#%d)\n", short(ev.PurchaseID), ev.RemoteID)
			}
		}
	}()

	if _, err := svc.RefreshHistory(context.Background()); err != nil {
		logger.Warn("History refresh failed, using local copy", "error", err)
	}

	repl(svc)
}

func repl(svc *basket.Service) {
	fmt.Println("cestinha, type 'help' for commands")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		args := strings.Fields(scanner.Text())
		if len(args) == 0 {
			continue
		}

		var err error
		switch args[0] {
		case "help":
			printHelp()
		case "add":
			err = cmdAdd(svc, args[1:])
		case "edit":
			err = cmdEdit(svc, args[1:])
		case "list":
			printCart(svc)
		case "clear":
			if err = svc.ClearCart(); err == nil {
				printCart(svc)
			}
		case "rm":
			err = withItem(svc, args[1:], func(id string) error { return svc.RemoveItem(id) })
		case "+", "-":
			dir := 1
			if args[0] == "-" {
				dir = -1
			}
			err = withItem(svc, args[1:], func(id string) error { return svc.AdjustQuantity(id, dir) })
		case "budget":
			err = cmdBudget(svc, args[1:])
		case "price":
			cmdPrice(svc, strings.Join(args[1:], " "))
		case "stats":
			printStats(svc)
		case "review":
			if err = svc.OpenReview(); err == nil {
				printCart(svc)
				fmt.Println("confirm with 'finalize <cash|debit|credit|pix>' or 'cancel'")
			}
		case "cancel":
			err = svc.CancelReview()
		case "finalize":
			err = cmdFinalize(svc, args[1:])
		case "history":
			printHistory(svc)
		case "summary":
			printSummary(svc)
		case "refresh":
			_, err = svc.RefreshHistory(context.Background())
		case "delete":
			err = cmdDelete(svc, args[1:])
		case "pay":
			err = cmdPay(svc, args[1:])
		case "clear-history":
			err = svc.ClearHistory()
		case "exit", "quit":
			return
		default:
			fmt.Printf("unknown command %q, try 'help'\n", args[0])
		}
		if err != nil {
			fmt.Println("error:", err)
		}
	}
}

func printHelp() {
	fmt.Print(`  add <name> <price> [qty] [un|kg] [category]
  edit <n> <name> <price> [qty] [un|kg] [category]
  list                     show the cart and budget
  + <n> / - <n>            step item n's quantity
  rm <n>                   remove item n
  clear                    empty the cart
  budget <value>           set the trip's budget goal
  price <name>             last paid price for a product
  stats                    cart breakdown per category
  review / cancel          enter or leave the confirmation step
  finalize <method>        freeze the cart into a purchase
  history                  recent purchases
  summary                  monthly totals
  refresh                  pull the shared history
  delete <n>               drop purchase n from this device
  pay <n> <method>         change a purchase's payment method
  clear-history            wipe the local history
  exit
`)
}

// parseDraft reads <name> <price> [qty] [un|kg] [category].
func parseDraft(args []string) (core.ItemDraft, error) {
	if len(args) < 2 {
		return core.ItemDraft{}, fmt.Errorf("expected <name> <price> [qty] [un|kg] [category]")
	}
	cents, err := core.ParseDecimalToCents(args[1])
	if err != nil {
		return core.ItemDraft{}, err
	}

	d := core.ItemDraft{
		Name:     args[0],
		Price:    core.Money{Cents: cents},
		Quantity: core.QuantityFromUnits(1),
		Unit:     core.UnitDiscrete,
	}
	if len(args) > 2 {
		milli, err := core.ParseDecimalToMilli(args[2])
		if err != nil {
			return core.ItemDraft{}, err
		}
		d.Quantity = core.Quantity{Milli: milli}
	}
	if len(args) > 3 {
		d.Unit = core.Unit(args[3])
	}
	if len(args) > 4 {
		d.Category = core.Category(args[4])
	}
	return d, nil
}

func cmdAdd(svc *basket.Service, args []string) error {
	d, err := parseDraft(args)
	if err != nil {
		return err
	}

	li, err := svc.AddItem(d)
	if err != nil {
		return err
	}

	if quote, ok := svc.LookupLastPrice(li.Name); ok {
		if diff, significant := core.PriceChange(li.Price, quote); significant {
			arrow := "up"
			if diff.Cents < 0 {
				arrow = "down"
			}
			fmt.Printf("  price %s since %s (was %s)\n",
				arrow, quote.Date.Format("2006-01-02"), quote.Price)
		}
	}
	printCart(svc)
	return nil
}

func cmdEdit(svc *basket.Service, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: edit <n> <name> <price> [qty] [un|kg] [category]")
	}
	d, err := parseDraft(args[1:])
	if err != nil {
		return err
	}
	return withItem(svc, args[:1], func(id string) error { return svc.EditItem(id, d) })
}

func cmdBudget(svc *basket.Service, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: budget <value>")
	}
	cents, err := core.ParseDecimalToCents(args[0])
	if err != nil {
		return err
	}
	if err := svc.SetBudgetGoal(core.Money{Cents: cents}); err != nil {
		return err
	}
	printCart(svc)
	return nil
}

func cmdPrice(svc *basket.Service, name string) {
	quote, ok := svc.LookupLastPrice(name)
	if !ok {
		fmt.Printf("no purchase of %q on record\n", name)
		return
	}
	fmt.Printf("%s last cost %s on %s\n", name, quote.Price, quote.Date.Format("2006-01-02"))
}

func cmdFinalize(svc *basket.Service, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: finalize <cash|debit|credit|pix>")
	}
	p, err := svc.Finalize(context.Background(), core.PaymentMethod(args[0]))
	if err != nil {
		return err
	}
	fmt.Printf("purchase %s saved: %d items, total %s\n", short(p.ID), p.ItemCount, p.Total)
	return nil
}

func cmdDelete(svc *basket.Service, args []string) error {
	p, err := pickPurchase(svc, args)
	if err != nil {
		return err
	}
	return svc.DeletePurchase(p.ID)
}

func cmdPay(svc *basket.Service, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: pay <n> <cash|debit|credit|pix>")
	}
	p, err := pickPurchase(svc, args[:1])
	if err != nil {
		return err
	}
	return svc.UpdatePurchaseField(context.Background(), p.ID, "payment_method", core.PaymentMethod(args[1]))
}

// withItem resolves a 1-based cart index and applies fn to its id.
func withItem(svc *basket.Service, args []string, fn func(id string) error) error {
	if len(args) != 1 {
		return fmt.Errorf("expected an item number")
	}
	n, err := strconv.Atoi(args[0])
	items := svc.Items()
	if err != nil || n < 1 || n > len(items) {
		return fmt.Errorf("no item %s in the cart", args[0])
	}
	if err := fn(items[n-1].ID); err != nil {
		return err
	}
	printCart(svc)
	return nil
}

func pickPurchase(svc *basket.Service, args []string) (core.Purchase, error) {
	if len(args) != 1 {
		return core.Purchase{}, fmt.Errorf("expected a purchase number")
	}
	n, err := strconv.Atoi(args[0])
	history := svc.History()
	if err != nil || n < 1 || n > len(history) {
		return core.Purchase{}, fmt.Errorf("no purchase %s in the history", args[0])
	}
	return history[n-1], nil
}

func printCart(svc *basket.Service) {
	items := svc.Items()
	if len(items) == 0 {
		fmt.Println("cart is empty")
	}
	for i, li := range items {
		fmt.Printf("%3d. %-20s %s x %s %s = %s  [%s]\n",
			i+1, li.Name, li.Price, li.Quantity, li.Unit, li.Total(), li.Category.Info().Label)
	}
	fmt.Printf("total: %s", svc.Total())
	if remaining, ok := svc.Remaining(); ok {
		fmt.Printf("  budget: %s  remaining: %s (%.0f%% used)",
			svc.BudgetGoal(), remaining, svc.Progress())
	}
	fmt.Println()
}

func printStats(svc *basket.Service) {
	shares := svc.CategoryBreakdown()
	if len(shares) == 0 {
		fmt.Println("nothing in the cart yet")
		return
	}
	for _, s := range shares {
		fmt.Printf("  %-12s %s (%d items, %.1f%%)\n",
			s.Category.Label, s.Total, s.Count, s.Percent)
	}
}

func printHistory(svc *basket.Service) {
	history := svc.History()
	if len(history) == 0 {
		fmt.Println("no purchases yet")
		return
	}
	for i, p := range history {
		sync := "local"
		if p.RemoteID != 0 {
			sync = fmt.Sprintf("#%d", p.RemoteID)
		}
		method := string(p.PaymentMethod)
		if method == "" {
			method = "-"
		}
		fmt.Printf("%3d. %s  %s  %2d items  %-6s  %s\n",
			i+1, p.Date.Format("2006-01-02 15:04"), p.Total, p.ItemCount, method, sync)
	}
}

func printSummary(svc *basket.Service) {
	for _, m := range svc.MonthlySummary() {
		line := fmt.Sprintf("%s  total %s", m.Key, m.Total)
		if m.Delta != nil && m.Delta.PercentValid {
			line += fmt.Sprintf("  (%+.1f%% vs previous)", m.Delta.Percent)
		}
		fmt.Println(line)
		for _, d := range m.Days {
			fmt.Printf("    %s  %s  (%d purchases)\n", d.Key, d.Total, len(d.Purchases))
		}
	}
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
