// Command ledgerctl drives the ledger API from the shell: amount previews,
// obligation listings, allocation plans, cash event commits and history.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradeledger/backend/internal/client"
	"github.com/tradeledger/backend/internal/infrastructure/logger"
	"github.com/tradeledger/backend/internal/interfaces/http/handler"
	"go.uber.org/zap"
)

type globalFlags struct {
	server   string
	rps      float64
	burst    int
	retries  int
	timeout  time.Duration
	logLevel string
}

func main() {
	var g globalFlags
	flag.StringVar(&g.server, "server", envOr("LEDGER_SERVER", "http://localhost:8080"), "Ledger server base URL")
	flag.Float64Var(&g.rps, "rps", 5, "Maximum requests per second")
	flag.IntVar(&g.burst, "burst", 5, "Request burst size")
	flag.IntVar(&g.retries, "retries", 3, "Retries for busy or rate limited requests")
	flag.DurationVar(&g.timeout, "timeout", 15*time.Second, "Per-request timeout")
	flag.StringVar(&g.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}

	log, err := logger.New(&logger.Config{Level: g.logLevel, Format: "console", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := client.New(g.server,
		client.WithRateLimit(g.rps, g.burst),
		client.WithRetries(g.retries, 250*time.Millisecond),
		client.WithTimeout(g.timeout),
		client.WithLogger(log),
	)

	cmd := &commands{client: c, out: os.Stdout, log: log}
	if err := cmd.run(ctx, args[0], args[1:]); err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			_ = cmd.print(map[string]any{"error": apiErr.Code, "message": apiErr.Message, "details": apiErr.Details})
		}
		fmt.Fprintln(os.Stderr, "ledgerctl:", err)
		os.Exit(1)
	}
}

type commands struct {
	client *client.Client
	out    io.Writer
	log    *zap.Logger
}

func (c *commands) run(ctx context.Context, name string, args []string) error {
	switch name {
	case "compute":
		return c.compute(ctx, args)
	case "obligations":
		return c.obligations(ctx, args)
	case "plan":
		return c.plan(ctx, args)
	case "commit":
		return c.commit(ctx, args)
	case "history":
		return c.history(ctx, args)
	default:
		printUsage()
		return fmt.Errorf("unknown command %q", name)
	}
}

func (c *commands) print(v any) error {
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (c *commands) compute(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("compute", flag.ContinueOnError)
	quantity := fs.String("quantity", "", "Quantity in kg")
	rate := fs.String("rate", "", "Original rate per kg")
	discount := discountFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	body := handler.ComputeAmountsBody{}
	var err error
	if body.Quantity, err = requiredDecimal("quantity", *quantity); err != nil {
		return err
	}
	if body.Rate, err = requiredDecimal("rate", *rate); err != nil {
		return err
	}
	if body.Discount, err = discount.request(); err != nil {
		return err
	}

	amounts, err := c.client.ComputeAmounts(ctx, body)
	if err != nil {
		return err
	}
	return c.print(amounts)
}

func (c *commands) obligations(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("obligations", flag.ContinueOnError)
	counterparty := fs.String("counterparty", "", "Counterparty ID (required)")
	thread := fs.String("thread", "", "PORTAL or DIFFERENCE")
	direction := fs.String("direction", "", "IN or OUT")
	openOnly := fs.Bool("open", true, "Only obligations with a pending balance")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *counterparty == "" {
		return errors.New("-counterparty is required")
	}

	obligations, err := c.client.ListObligations(ctx, client.ObligationFilter{
		CounterpartyID: *counterparty,
		Thread:         strings.ToUpper(*thread),
		Direction:      strings.ToUpper(*direction),
		OpenOnly:       *openOnly,
	})
	if err != nil {
		return err
	}
	return c.print(obligations)
}

type cashFlags struct {
	counterparty *string
	amount       *string
	direction    *string
	thread       *string
}

func newCashFlags(fs *flag.FlagSet) cashFlags {
	return cashFlags{
		counterparty: fs.String("counterparty", "", "Counterparty ID (required)"),
		amount:       fs.String("amount", "", "Cash amount (required)"),
		direction:    fs.String("direction", "IN", "IN or OUT"),
		thread:       fs.String("thread", "PORTAL", "PORTAL or DIFFERENCE"),
	}
}

func (f cashFlags) plan() (handler.PlanAllocationBody, error) {
	if *f.counterparty == "" {
		return handler.PlanAllocationBody{}, errors.New("-counterparty is required")
	}
	amount, err := requiredDecimal("amount", *f.amount)
	if err != nil {
		return handler.PlanAllocationBody{}, err
	}
	return handler.PlanAllocationBody{
		CounterpartyID: *f.counterparty,
		Amount:         amount,
		Direction:      strings.ToUpper(*f.direction),
		Thread:         strings.ToUpper(*f.thread),
	}, nil
}

func (c *commands) plan(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("plan", flag.ContinueOnError)
	cash := newCashFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	body, err := cash.plan()
	if err != nil {
		return err
	}

	plan, err := c.client.PlanAllocation(ctx, body)
	if plan != nil {
		if perr := c.print(plan); perr != nil {
			return perr
		}
	}
	return err
}

// commit posts one cash event from flags, allocated by the server's plan, or
// a batch of JSON cash events from -file (one object per line, "-" for stdin)
func (c *commands) commit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("commit", flag.ContinueOnError)
	cash := newCashFlags(fs)
	key := fs.String("key", "", "Idempotency key, e.g. the cheque or UTR number")
	notes := fs.String("notes", "", "Free text kept on the cash event")
	file := fs.String("file", "", "Commit every cash event in this JSON lines file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *file != "" {
		return c.commitBatch(ctx, *file)
	}

	planBody, err := cash.plan()
	if err != nil {
		return err
	}
	plan, err := c.client.PlanAllocation(ctx, planBody)
	if err != nil {
		return err
	}

	body := handler.CommitCashEventBody{
		CounterpartyID: planBody.CounterpartyID,
		Amount:         planBody.Amount,
		Direction:      planBody.Direction,
		Thread:         planBody.Thread,
		Notes:          *notes,
		IdempotencyKey: *key,
	}
	for _, e := range plan.Entries {
		body.Entries = append(body.Entries, handler.AllocationEntryBody{ObligationID: e.ObligationID, AllocatedAmount: e.AllocatedAmount})
	}

	event, err := c.client.CommitCashEvent(ctx, body)
	if err != nil {
		return err
	}
	return c.print(event)
}

type batchResult struct {
	Line    int    `json:"line"`
	EventID string `json:"event_id,omitempty"`
	Replay  bool   `json:"replayed,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (c *commands) commitBatch(ctx context.Context, path string) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open batch file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var failed int
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		res := batchResult{Line: line}
		var body handler.CommitCashEventBody
		if err := json.Unmarshal([]byte(text), &body); err != nil {
			res.Error = "malformed JSON: " + err.Error()
		} else if event, err := c.client.CommitCashEvent(ctx, body); err != nil {
			res.Error = err.Error()
		} else {
			res.EventID = event.ID.String()
			res.Replay = event.Replayed
		}

		if res.Error != "" {
			failed++
			c.log.Warn("cash event not committed", zap.Int("line", line), zap.String("error", res.Error))
		}
		if err := c.print(res); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read batch file: %w", err)
	}
	if failed > 0 {
		return fmt.Errorf("%d cash events failed", failed)
	}
	return nil
}

func (c *commands) history(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ContinueOnError)
	counterparty := fs.String("counterparty", "", "Counterparty ID")
	direction := fs.String("direction", "", "IN or OUT")
	from := fs.String("from", "", "Earliest date, 2006-01-02")
	to := fs.String("to", "", "Latest date, 2006-01-02")
	page := fs.Int("page", 1, "Page number")
	pageSize := fs.Int("page-size", 20, "Page size, at most 100")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := client.CashEventFilter{
		CounterpartyID: *counterparty,
		Direction:      strings.ToUpper(*direction),
		Page:           *page,
		PageSize:       *pageSize,
	}
	var err error
	if filter.From, err = optionalDate(*from, false); err != nil {
		return err
	}
	if filter.To, err = optionalDate(*to, true); err != nil {
		return err
	}

	events, err := c.client.ListCashEvents(ctx, filter)
	if err != nil {
		return err
	}
	return c.print(map[string]any{"items": events.Items, "meta": events.Meta})
}

type discountOpts struct {
	kind  *string
	rate  *string
	extra *string
}

func discountFlags(fs *flag.FlagSet) discountOpts {
	return discountOpts{
		kind:  fs.String("discount", "NONE", "NONE, DISCOUNT_OR_PREMIUM or INDIRECT_DISCOUNT"),
		rate:  fs.String("actual-rate", "", "Actual rate for DISCOUNT_OR_PREMIUM"),
		extra: fs.String("extra-quantity", "", "Extra quantity for INDIRECT_DISCOUNT"),
	}
}

func (d discountOpts) request() (handler.DiscountRequest, error) {
	req := handler.DiscountRequest{Kind: strings.ToUpper(*d.kind)}
	if *d.rate != "" {
		v, err := decimal.NewFromString(*d.rate)
		if err != nil {
			return req, fmt.Errorf("invalid -actual-rate: %w", err)
		}
		req.Rate = &v
	}
	if *d.extra != "" {
		v, err := decimal.NewFromString(*d.extra)
		if err != nil {
			return req, fmt.Errorf("invalid -extra-quantity: %w", err)
		}
		req.ExtraQuantity = &v
	}
	return req, nil
}

func requiredDecimal(name, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, fmt.Errorf("-%s is required", name)
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid -%s: %w", name, err)
	}
	return d, nil
}

func optionalDate(value string, endOfDay bool) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", value)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q, want YYYY-MM-DD", value)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `ledgerctl talks to the ledger API

Usage:
  ledgerctl [flags] <command> [command flags]

Commands:
  compute      -quantity -rate [-discount -actual-rate -extra-quantity]
  obligations  -counterparty [-thread -direction -open]
  plan         -counterparty -amount [-direction -thread]
  commit       -counterparty -amount [-direction -thread -key -notes]
  commit       -file payments.jsonl
  history      [-counterparty -direction -from -to -page -page-size]

Flags:
  -server      Ledger server base URL (env LEDGER_SERVER)
  -rps, -burst Client side request pacing
  -retries     Retries for busy locks and rate limited requests
  -timeout     Per-request timeout`)
}
