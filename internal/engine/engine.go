// Package engine runs the trading control loop: a single goroutine
// that owns all mutable engine state, decides each tick whether the
// resting quotes must be replaced, and publishes immutable snapshots.
// External callers talk to it only through serialized commands.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"makerd/internal/domain"
	"makerd/internal/infra"
	"makerd/internal/market"
	"makerd/internal/quote"
	"makerd/internal/risk"
	"makerd/internal/uptime"
)

const (
	// Per-call deadline for exchange REST operations inside a tick.
	callTimeout = 5 * time.Second

	// Kill prioritizes stopping over completeness; each best-effort
	// cancel gets a shorter leash.
	killCancelTimeout = 3 * time.Second

	// Tokens are refreshed proactively well before the exchange's
	// session expiry.
	refreshAuthAfter = 20 * time.Minute

	// Cadence of uptime sampling and state publishing, independent of
	// the requote tick.
	sampleInterval = 1 * time.Second
)

// Gateway is the narrow exchange contract the engine depends on.
type Gateway interface {
	PlaceOrder(ctx context.Context, symbol string, side domain.Side, price, size float64) (string, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAll(ctx context.Context, symbol string) error
	ListOpenOrders(ctx context.Context, symbol string) ([]domain.ActiveOrder, error)
	RefreshAuth(ctx context.Context) error
}

// SymbolSwitcher resubscribes the market-data stream to a new symbol.
type SymbolSwitcher interface {
	SwitchSymbol(symbol string) error
}

// AuthProvider reports credential state for the proactive refresh path.
type AuthProvider interface {
	IsAuthenticated() bool
	TokenAge() time.Duration
}

// FillArchiver persists confirmed fills. Optional.
type FillArchiver interface {
	SaveFill(fill domain.Fill) error
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdKill
	cmdUpdateConfig
)

type command struct {
	kind   commandKind
	update infra.TradingConfigUpdate
	reply  chan error
}

// Engine is the single-owner trading loop. All fields below the
// command channel are touched only from Run's goroutine.
type Engine struct {
	gateway Gateway
	store   *market.Store
	stream  SymbolSwitcher
	auth    AuthProvider
	riskMgr *risk.Manager
	tracker *uptime.Tracker
	archive FillArchiver
	fills   <-chan domain.Fill

	commands chan command

	cfg            infra.TradingConfig
	spec           domain.SymbolSpec
	status         domain.EngineStatus
	book           *restingBook
	lastQuote      *quote.Quote
	midAtLastQuote float64
	forceRequote   bool
	loopCount      uint64

	consecutiveFailures int
	authFailedLastTick  bool

	pubMu     sync.RWMutex
	published State
	onPublish func(State)

	logger *slog.Logger
}

// Options carries the engine's collaborators.
type Options struct {
	Gateway Gateway
	Store   *market.Store
	Stream  SymbolSwitcher
	Auth    AuthProvider
	Risk    *risk.Manager
	Tracker *uptime.Tracker
	Archive FillArchiver
	Fills   <-chan domain.Fill
}

// New creates an engine in the stopped state.
func New(cfg infra.TradingConfig, opts Options) (*Engine, error) {
	spec, err := domain.SpecFor(cfg.Symbol)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		gateway:  opts.Gateway,
		store:    opts.Store,
		stream:   opts.Stream,
		auth:     opts.Auth,
		riskMgr:  opts.Risk,
		tracker:  opts.Tracker,
		archive:  opts.Archive,
		fills:    opts.Fills,
		commands: make(chan command, 16),
		cfg:      cfg,
		spec:     spec,
		status:   domain.StatusStopped,
		book:     newRestingBook(cfg.Symbol),
		logger:   slog.Default().With("module", "engine"),
	}
	e.published = e.buildState(time.Now())
	return e, nil
}

// SetPublisher installs the snapshot consumer. Must be called before Run.
func (e *Engine) SetPublisher(fn func(State)) {
	e.onPublish = fn
}

// Snapshot returns the latest published engine state.
func (e *Engine) Snapshot() State {
	e.pubMu.RLock()
	defer e.pubMu.RUnlock()
	return e.published
}

// =====================================================
// Command surface - callable from any goroutine
// =====================================================

// Start brings the engine out of stopped/error/killed. It clears the
// failure counter and waits for fresh market data before quoting.
func (e *Engine) Start(ctx context.Context) error {
	return e.send(ctx, command{kind: cmdStart})
}

// Stop gracefully halts trading and cancels all resting orders.
func (e *Engine) Stop(ctx context.Context) error {
	return e.send(ctx, command{kind: cmdStop})
}

// Kill is the emergency stop: best-effort cancel of every known order,
// then the terminal killed state until an explicit Start.
func (e *Engine) Kill(ctx context.Context) error {
	return e.send(ctx, command{kind: cmdKill})
}

// UpdateConfig applies a partial config change at the next tick
// boundary. A symbol change cancels all orders, resubscribes market
// data and requotes once the new book is live.
func (e *Engine) UpdateConfig(ctx context.Context, update infra.TradingConfigUpdate) error {
	return e.send(ctx, command{kind: cmdUpdateConfig, update: update})
}

func (e *Engine) send(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)
	select {
	case e.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// =====================================================
// Main loop
// =====================================================

// Run executes the control loop until ctx is cancelled. It MUST be the
// only goroutine touching engine state.
func (e *Engine) Run(ctx context.Context) {
	e.logger.Info("engine loop started", slog.String("symbol", e.cfg.Symbol))

	tick := time.NewTicker(e.cfg.RefreshInterval())
	defer tick.Stop()
	sample := time.NewTicker(sampleInterval)
	defer sample.Stop()

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return

		case cmd := <-e.commands:
			interval := e.cfg.RefreshInterval()
			err := e.handleCommand(ctx, cmd)
			if ni := e.cfg.RefreshInterval(); ni != interval {
				tick.Reset(ni)
			}
			// Publish before replying so callers observe the result.
			e.publish(time.Now())
			cmd.reply <- err

		case fill := <-e.fills:
			e.handleFill(fill)

		case now := <-sample.C:
			e.sampleUptime(now)
			e.publish(now)

		case <-tick.C:
			if !e.tickable() {
				continue
			}
			started := time.Now()
			err := e.tick(ctx)
			infra.GlobalMetrics.RecordTick(time.Since(started).Nanoseconds())
			e.accountTick(ctx, err)
		}
	}
}

func (e *Engine) tickable() bool {
	switch e.status {
	case domain.StatusStarting, domain.StatusRunning, domain.StatusPaused:
		return true
	}
	return false
}

// accountTick updates the failure counter and trips the kill switch
// when the limit is reached. An auth failure triggers a token refresh;
// a second consecutive auth failure halts the engine immediately.
func (e *Engine) accountTick(ctx context.Context, err error) {
	if err == nil {
		e.consecutiveFailures = 0
		e.authFailedLastTick = false
		return
	}

	e.consecutiveFailures++
	infra.GlobalMetrics.RecordError()
	e.logger.Error("tick failed",
		slog.Any("error", err),
		slog.Int("consecutive_failures", e.consecutiveFailures))

	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		if e.authFailedLastTick {
			e.logger.Error("auth failed again after refresh, halting")
			e.status = domain.StatusError
			infra.GlobalMetrics.SetKillSwitch(true)
			e.cancelAllBestEffort(ctx)
			return
		}
		e.authFailedLastTick = true
		cctx, cancel := context.WithTimeout(ctx, callTimeout)
		if rerr := e.gateway.RefreshAuth(cctx); rerr != nil {
			e.logger.Error("auth refresh failed", slog.Any("error", rerr))
		} else {
			e.logger.Info("auth refreshed after auth failure")
		}
		cancel()
	}

	if e.consecutiveFailures >= e.cfg.MaxConsecutiveFailures {
		e.logger.Error("kill switch tripped",
			slog.Int("failures", e.consecutiveFailures),
			slog.Int("max", e.cfg.MaxConsecutiveFailures))
		e.status = domain.StatusError
		infra.GlobalMetrics.SetKillSwitch(true)
		e.cancelAllBestEffort(ctx)
	}
}

// tick is one iteration of the control loop.
func (e *Engine) tick(ctx context.Context) error {
	e.loopCount++

	if e.auth != nil && e.auth.IsAuthenticated() && e.auth.TokenAge() > refreshAuthAfter {
		cctx, cancel := context.WithTimeout(ctx, callTimeout)
		err := e.gateway.RefreshAuth(cctx)
		cancel()
		if err != nil {
			return err
		}
	}

	snap, stale := e.store.Read()
	if stale || snap.Mid <= 0 {
		if e.status == domain.StatusRunning {
			e.logger.Warn("market data stale, pausing requotes")
			e.status = domain.StatusPaused
		}
		return nil
	}
	if e.status == domain.StatusStarting || e.status == domain.StatusPaused {
		e.logger.Info("market data live", slog.Float64("mid", snap.Mid))
		e.status = domain.StatusRunning
	}

	e.riskMgr.MarkToMarket(snap.Mid)

	q := quote.Generate(snap, false, e.riskMgr.Position().Size, e.cfg, e.spec)
	e.lastQuote = q
	if q == nil {
		return nil
	}
	if !q.WithinLimits {
		e.logger.Warn("quote exceeds max deviation, refusing to place",
			slog.Float64("bid_dev_bps", q.BidDeviationBps),
			slog.Float64("ask_dev_bps", q.AskDeviationBps),
			slog.Float64("max_bps", e.cfg.MaxSpreadDeviationBps))
		return nil
	}

	reason := requoteTrigger(e.book, snap, e.midAtLastQuote, e.cfg, time.Now())
	if e.forceRequote && len(e.book.orders) > 0 {
		reason = requoteExplicit
	}

	var err error
	if reason != requoteNone {
		err = e.requote(ctx, q, reason)
	} else {
		err = e.placeMissing(ctx, q)
	}
	e.forceRequote = false
	if err != nil {
		return err
	}

	e.publish(time.Now())
	return nil
}

// requote is the Quoting → Requoting → Quoting transition: reconcile
// against the exchange, cancel every order still resting, then place a
// fresh pair. Cancel-before-place is strict.
func (e *Engine) requote(ctx context.Context, q *quote.Quote, reason requoteReason) error {
	e.logger.Info("requoting",
		slog.String("reason", string(reason)),
		slog.Float64("mid", q.MidPrice))
	infra.GlobalMetrics.RecordRequote()

	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	listed, err := e.gateway.ListOpenOrders(cctx, e.cfg.Symbol)
	cancel()
	if err != nil {
		return err
	}
	gone, extras := e.book.reconcile(listed)
	for _, id := range gone {
		e.logger.Info("order gone on exchange, dropped from book", slog.String("order_id", id))
	}
	for _, o := range extras {
		e.logger.Warn("untracked order on exchange, cancelling",
			slog.String("order_id", o.OrderID), slog.String("side", string(o.Side)))
		cctx, cancel := context.WithTimeout(ctx, callTimeout)
		err := e.gateway.CancelOrder(cctx, o.OrderID)
		cancel()
		if err != nil && !errors.Is(err, domain.ErrOrderGone) {
			return err
		}
		infra.GlobalMetrics.RecordOrderCancelled()
	}

	for _, o := range e.book.openOrders() {
		cctx, cancel := context.WithTimeout(ctx, callTimeout)
		err := e.gateway.CancelOrder(cctx, o.OrderID)
		cancel()
		if err != nil && !errors.Is(err, domain.ErrOrderGone) {
			return err
		}
		e.book.remove(o.Side)
		infra.GlobalMetrics.RecordOrderCancelled()
	}

	return e.placeMissing(ctx, q)
}

// placeMissing places orders on any side with no resting order. Sides
// are risk-approved independently; a veto skips that side only.
func (e *Engine) placeMissing(ctx context.Context, q *quote.Quote) error {
	placed := false
	for _, side := range missingSides(e.book) {
		price, size := priceFor(q, side)
		if price <= 0 || size <= 0 {
			continue
		}
		if !e.riskMgr.Approve(side, size, price) {
			continue
		}

		cctx, cancel := context.WithTimeout(ctx, callTimeout)
		orderID, err := e.gateway.PlaceOrder(cctx, e.cfg.Symbol, side, price, size)
		cancel()
		if err != nil {
			return err
		}

		e.book.put(domain.ActiveOrder{
			OrderID:  orderID,
			Symbol:   e.cfg.Symbol,
			Side:     side,
			Price:    price,
			Size:     size,
			PlacedAt: time.Now(),
			Status:   domain.OrderStatusOpen,
		})
		infra.GlobalMetrics.RecordOrderPlaced()
		placed = true
	}
	if placed {
		e.midAtLastQuote = q.MidPrice
	}
	return nil
}

// handleFill applies a confirmed fill to the book, the position and
// the archive.
func (e *Engine) handleFill(fill domain.Fill) {
	if fill.Symbol != e.cfg.Symbol {
		return
	}

	matched := e.book.applyFill(fill)
	e.riskMgr.ApplyFill(fill)
	infra.GlobalMetrics.RecordFill()

	e.logger.Info("fill confirmed",
		slog.String("order_id", fill.OrderID),
		slog.String("side", string(fill.Side)),
		slog.Float64("price", fill.Price),
		slog.Float64("size", fill.Size),
		slog.Bool("tracked", matched))

	if e.archive != nil {
		if err := e.archive.SaveFill(fill); err != nil {
			e.logger.Warn("failed to persist fill", slog.Any("error", err))
		}
	}

	if e.riskMgr.Breached() {
		e.logger.Warn("position breached risk limits, exposure-increasing side suppressed",
			slog.Float64("size", e.riskMgr.Position().Size))
	}
}

// sampleUptime classifies this instant for the uptime counters,
// independent of the requote cadence.
func (e *Engine) sampleUptime(now time.Time) {
	both := e.status == domain.StatusRunning && e.book.hasBothSides()
	e.tracker.Sample(now, both, e.cfg.TotalSpreadBps())
}

// publish rebuilds and hands out the immutable state snapshot.
func (e *Engine) publish(now time.Time) {
	state := e.buildState(now)
	e.pubMu.Lock()
	e.published = state
	e.pubMu.Unlock()
	if e.onPublish != nil {
		e.onPublish(state)
	}
}

// =====================================================
// Command handlers - loop goroutine only
// =====================================================

func (e *Engine) handleCommand(ctx context.Context, cmd command) error {
	switch cmd.kind {
	case cmdStart:
		return e.handleStart()
	case cmdStop:
		return e.handleStop(ctx)
	case cmdKill:
		return e.handleKill(ctx)
	case cmdUpdateConfig:
		return e.handleConfigUpdate(ctx, cmd.update)
	}
	return nil
}

func (e *Engine) handleStart() error {
	if e.status == domain.StatusRunning || e.status == domain.StatusStarting {
		e.logger.Warn("start ignored, already running")
		return nil
	}
	e.status = domain.StatusStarting
	e.consecutiveFailures = 0
	e.authFailedLastTick = false
	e.forceRequote = true
	infra.GlobalMetrics.SetKillSwitch(false)
	e.logger.Info("engine starting", slog.String("symbol", e.cfg.Symbol))
	return nil
}

func (e *Engine) handleStop(ctx context.Context) error {
	if e.status == domain.StatusStopped {
		e.logger.Warn("stop ignored, already stopped")
		return nil
	}
	e.cancelAllBestEffort(ctx)
	e.status = domain.StatusStopped
	e.logger.Info("engine stopped")
	return nil
}

func (e *Engine) handleKill(ctx context.Context) error {
	e.logger.Warn("kill switch activated")
	e.cancelAllBestEffort(ctx)
	e.status = domain.StatusKilled
	infra.GlobalMetrics.SetKillSwitch(true)
	e.logger.Info("engine killed")
	return nil
}

func (e *Engine) handleConfigUpdate(ctx context.Context, update infra.TradingConfigUpdate) error {
	if update.IsEmpty() {
		return &domain.ConfigError{Field: "update", Err: errors.New("no fields to update")}
	}

	next := update.Apply(e.cfg)
	if err := next.Validate(); err != nil {
		return err
	}

	if next.Symbol != e.cfg.Symbol {
		if err := e.switchSymbol(ctx, next); err != nil {
			return err
		}
	} else {
		e.cfg = next
	}

	e.riskMgr.SetLimits(e.cfg.MaxPosition, e.cfg.MaxNotional)
	e.tracker.SetTarget(e.cfg.UptimeTargetMinutes)
	e.forceRequote = true
	e.logger.Info("config updated", slog.String("symbol", e.cfg.Symbol))
	return nil
}

// switchSymbol cancels everything on the old symbol, resubscribes the
// stream and clears per-symbol state. Quoting resumes only after the
// new book delivers a non-stale snapshot.
func (e *Engine) switchSymbol(ctx context.Context, next infra.TradingConfig) error {
	spec, err := domain.SpecFor(next.Symbol)
	if err != nil {
		return err
	}

	e.logger.Info("switching symbol",
		slog.String("from", e.cfg.Symbol),
		slog.String("to", next.Symbol))

	e.cancelAllBestEffort(ctx)

	if err := e.stream.SwitchSymbol(next.Symbol); err != nil {
		return err
	}

	e.cfg = next
	e.spec = spec
	e.book.reset(next.Symbol)
	e.riskMgr.Reset(next.Symbol)
	e.tracker.Reset()
	e.lastQuote = nil
	e.midAtLastQuote = 0

	if e.status == domain.StatusRunning || e.status == domain.StatusPaused {
		e.status = domain.StatusStarting
	}
	return nil
}

// cancelAllBestEffort cancels every known order with a bounded timeout
// per call, then fires the bulk cancel. Failures are logged, never
// retried: stopping wins over completeness, and residual orders remain
// observable through the next ListOpenOrders reconciliation.
func (e *Engine) cancelAllBestEffort(ctx context.Context) {
	for _, o := range e.book.openOrders() {
		cctx, cancel := context.WithTimeout(ctx, killCancelTimeout)
		err := e.gateway.CancelOrder(cctx, o.OrderID)
		cancel()
		if err != nil && !errors.Is(err, domain.ErrOrderGone) {
			e.logger.Error("best-effort cancel failed",
				slog.String("order_id", o.OrderID), slog.Any("error", err))
		} else {
			infra.GlobalMetrics.RecordOrderCancelled()
		}
		e.book.remove(o.Side)
	}

	cctx, cancel := context.WithTimeout(ctx, killCancelTimeout)
	defer cancel()
	if err := e.gateway.CancelAll(cctx, e.cfg.Symbol); err != nil {
		e.logger.Error("bulk cancel failed", slog.Any("error", err))
	}
}

// shutdown runs when the process context ends.
func (e *Engine) shutdown() {
	e.logger.Info("engine loop stopping")
	if e.status == domain.StatusRunning || e.status == domain.StatusPaused || e.status == domain.StatusStarting {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		e.cancelAllBestEffort(ctx)
		e.status = domain.StatusStopped
	}
}
