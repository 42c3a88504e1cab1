package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/btc5mtrader/internal/domain"
	"github.com/alanyoungcy/btc5mtrader/internal/fill"
	"github.com/alanyoungcy/btc5mtrader/internal/guard"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Executor signs and submits orders and manages resting ones.
type Executor interface {
	Submit(ctx context.Context, p domain.OrderPayload) (domain.SubmitResult, error)
	Cancel(ctx context.Context, orderID string) error
	ListOpen(ctx context.Context) ([]domain.OpenOrder, error)
}

// TradeNotifier forwards trade events to operators.
type TradeNotifier interface {
	NotifyTrade(ctx context.Context, ev domain.TradeEvent) error
}

// Recorder receives pipeline measurements.
type Recorder interface {
	ObserveVerdict(level domain.VerdictLevel, slippage decimal.NullDecimal)
	ObserveSubmission(state domain.TradeState)
	ObserveError(kind domain.ErrorKind)
}

// Quote is the suspended result of Prepare. A quote in state
// AWAITING_CONFIRMATION can be turned into a Confirmation and executed.
type Quote struct {
	State   domain.TradeState   `json:"state"`
	Summary domain.OrderSummary `json:"summary"`
	Request domain.OrderRequest `json:"-"`
}

// Allowed reports whether the quote may be confirmed.
func (q Quote) Allowed() bool {
	return q.State == domain.StateAwaitingConfirmation
}

// Confirm returns the operator's confirmation of exactly this quote.
func (q Quote) Confirm() Confirmation {
	return Confirmation{
		RequestID: q.Summary.RequestID,
		Request:   q.Request,
		WindowID:  q.Summary.WindowID,
		Level:     q.Summary.Level,
	}
}

// Confirmation is what the operator agreed to: the request, the window it was
// quoted in and the verdict level they saw.
type Confirmation struct {
	RequestID string
	Request   domain.OrderRequest
	WindowID  string
	Level     domain.VerdictLevel
}

// Outcome is the result of Execute. Requote is set when the market moved
// enough since confirmation that the operator must confirm again.
type Outcome struct {
	State   domain.TradeState   `json:"state"`
	Summary domain.OrderSummary `json:"summary"`
	OrderID string              `json:"order_id,omitempty"`
	Status  string              `json:"status,omitempty"`
	Error   string              `json:"error,omitempty"`
	Requote *Quote              `json:"-"`
}

// TradeService runs the trade-safety pipeline: resolve the window, snapshot
// the book, simulate the fill, ask the guard, and submit only after the
// operator confirms. It keeps no per-request state, so concurrent calls are
// independent.
type TradeService struct {
	resolver   *Resolver
	depth      *DepthFetcher
	exec       Executor
	thresholds guard.Thresholds
	tickSize   decimal.Decimal
	logger     *slog.Logger

	journal  domain.TradeJournal
	bus      domain.SignalBus
	channel  string
	archiver domain.DecisionArchiver
	notifier TradeNotifier
	metrics  Recorder
	dryRun   bool

	now   func() time.Time
	newID func() string
}

// NewTradeService creates a TradeService with its required collaborators.
// exec may be nil for a quote-only service.
func NewTradeService(
	resolver *Resolver,
	depth *DepthFetcher,
	exec Executor,
	thresholds guard.Thresholds,
	tickSize decimal.Decimal,
	logger *slog.Logger,
) *TradeService {
	return &TradeService{
		resolver:   resolver,
		depth:      depth,
		exec:       exec,
		thresholds: thresholds,
		tickSize:   tickSize,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// WithJournal records every pipeline outcome in j.
func (s *TradeService) WithJournal(j domain.TradeJournal) *TradeService {
	s.journal = j
	return s
}

// WithSignalBus publishes trade events on channel.
func (s *TradeService) WithSignalBus(bus domain.SignalBus, channel string) *TradeService {
	s.bus = bus
	s.channel = channel
	return s
}

// WithArchiver stores every decision in cold storage.
func (s *TradeService) WithArchiver(a domain.DecisionArchiver) *TradeService {
	s.archiver = a
	return s
}

// WithNotifier forwards trade events to operators.
func (s *TradeService) WithNotifier(n TradeNotifier) *TradeService {
	s.notifier = n
	return s
}

// WithMetrics attaches a measurement recorder.
func (s *TradeService) WithMetrics(m Recorder) *TradeService {
	s.metrics = m
	return s
}

// WithDryRun marks journal rows written by this service as dry runs.
func (s *TradeService) WithDryRun(dryRun bool) *TradeService {
	s.dryRun = dryRun
	return s
}

// WithClock replaces the wall clock.
func (s *TradeService) WithClock(now func() time.Time) *TradeService {
	s.now = now
	return s
}

// WithIDs replaces the request ID generator.
func (s *TradeService) WithIDs(newID func() string) *TradeService {
	s.newID = newID
	return s
}

// CurrentWindow resolves the active window.
func (s *TradeService) CurrentWindow(ctx context.Context) (domain.Window, error) {
	w, err := s.resolver.Resolve(ctx, s.now())
	if err != nil {
		s.observeError(err)
		return domain.Window{}, fmt.Errorf("trade_service: %w", err)
	}
	return w, nil
}

// BookView is both outcome books of one window.
type BookView struct {
	Window      domain.Window
	Affirmative domain.DepthSnapshot
	Negative    domain.DepthSnapshot
}

// Books resolves the active window and snapshots both of its books.
func (s *TradeService) Books(ctx context.Context) (BookView, error) {
	w, err := s.CurrentWindow(ctx)
	if err != nil {
		return BookView{}, err
	}
	aff, neg, err := s.depth.FetchBoth(ctx, w)
	if err != nil {
		s.observeError(err)
		return BookView{}, fmt.Errorf("trade_service: books: %w", err)
	}
	return BookView{Window: w, Affirmative: aff, Negative: neg}, nil
}

// Prepare runs the pipeline up to the guard and stops. The returned quote is
// either BLOCKED or AWAITING_CONFIRMATION. Nothing is submitted.
func (s *TradeService) Prepare(ctx context.Context, req domain.OrderRequest) (Quote, error) {
	req, err := req.Normalize()
	if err != nil {
		s.observeError(err)
		return Quote{}, fmt.Errorf("trade_service: %w", err)
	}

	ev, err := s.evaluate(ctx, s.newID(), req)
	if err != nil {
		s.observeError(err)
		return Quote{}, fmt.Errorf("trade_service: prepare: %w", err)
	}

	state := domain.StateAwaitingConfirmation
	if !ev.verdict.Allowed {
		state = domain.StateBlocked
	}
	s.finish(ctx, ev, state, "", "")

	return Quote{State: state, Summary: ev.summary, Request: req}, nil
}

// Execute acts on a confirmation. The window and book are resolved again from
// scratch; if the window rotated or the verdict got worse than what the
// operator confirmed, a fresh quote is returned instead of submitting.
// Submission failures are reported as SUBMIT_FAILED and never retried.
func (s *TradeService) Execute(ctx context.Context, c Confirmation) (Outcome, error) {
	if s.exec == nil {
		return Outcome{}, fmt.Errorf("trade_service: %w: no executor configured", domain.ErrSigningFailed)
	}
	req, err := c.Request.Normalize()
	if err != nil {
		s.observeError(err)
		return Outcome{}, fmt.Errorf("trade_service: %w", err)
	}
	if c.Level == domain.LevelBlock {
		return Outcome{}, fmt.Errorf("trade_service: %w: a blocked quote cannot be confirmed", domain.ErrInvalidOrder)
	}
	id := c.RequestID
	if id == "" {
		id = s.newID()
	}

	ev, err := s.evaluate(ctx, id, req)
	if err != nil {
		s.observeError(err)
		return Outcome{}, fmt.Errorf("trade_service: execute: %w", err)
	}

	if !ev.verdict.Allowed {
		s.finish(ctx, ev, domain.StateBlocked, "", "")
		return Outcome{State: domain.StateBlocked, Summary: ev.summary}, nil
	}

	if drift := confirmationDrift(c, ev); drift != "" {
		ev.summary.Warnings = append(ev.summary.Warnings, drift)
		s.finish(ctx, ev, domain.StateAwaitingConfirmation, "", "")
		q := Quote{State: domain.StateAwaitingConfirmation, Summary: ev.summary, Request: req}
		return Outcome{State: domain.StateAwaitingConfirmation, Summary: ev.summary, Requote: &q}, nil
	}

	payload, err := s.payload(req, ev)
	if err != nil {
		s.observeError(err)
		return Outcome{}, fmt.Errorf("trade_service: execute: %w", err)
	}

	s.logger.InfoContext(ctx, "trade_service: submitting order",
		slog.String("request_id", id),
		slog.String("state", string(domain.StateSubmitting)),
		slog.String("window_id", ev.window.ID),
		slog.String("outcome", ev.summary.Outcome),
		slog.String("order_type", string(payload.Kind)),
		slog.String("price", payload.Price.String()),
		slog.String("size", payload.Size.String()),
	)

	res, err := s.exec.Submit(ctx, payload)
	if err != nil {
		s.observeError(err)
		s.finish(ctx, ev, domain.StateSubmitFailed, "", err.Error())
		return Outcome{State: domain.StateSubmitFailed, Summary: ev.summary, Error: err.Error()},
			fmt.Errorf("trade_service: submit: %w", err)
	}

	s.finish(ctx, ev, domain.StateSubmitted, res.OrderID, "")
	return Outcome{
		State:   domain.StateSubmitted,
		Summary: ev.summary,
		OrderID: res.OrderID,
		Status:  res.Status,
	}, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

type evaluation struct {
	window   domain.Window
	snapshot domain.DepthSnapshot
	estimate domain.FillEstimate
	verdict  domain.Verdict
	summary  domain.OrderSummary
}

func (s *TradeService) evaluate(ctx context.Context, id string, req domain.OrderRequest) (evaluation, error) {
	logger := s.logger.With(slog.String("request_id", id))

	logger.DebugContext(ctx, "trade_service: state", slog.String("state", string(domain.StateResolving)))
	w, err := s.resolver.Resolve(ctx, s.now())
	if err != nil {
		return evaluation{}, err
	}

	logger.DebugContext(ctx, "trade_service: state", slog.String("state", string(domain.StateSnapshotting)))
	snap, err := s.depth.Fetch(ctx, w.TokenFor(req.Role))
	if err != nil {
		return evaluation{}, err
	}

	// Both sides buy an outcome token, so the walk is always over asks.
	logger.DebugContext(ctx, "trade_service: state", slog.String("state", string(domain.StateSimulating)))
	est := fill.Simulate(snap, domain.OrderSideBuy, req.Size)

	logger.DebugContext(ctx, "trade_service: state", slog.String("state", string(domain.StateGuarding)))
	now := s.now()
	v := guard.Evaluate(w, est, s.thresholds, req.Override, now)

	if s.metrics != nil {
		s.metrics.ObserveVerdict(v.Level, v.SlippagePct)
	}
	logger.InfoContext(ctx, "trade_service: verdict",
		slog.String("window_id", w.ID),
		slog.String("outcome", w.LabelFor(req.Role)),
		slog.String("level", string(v.Level)),
		slog.String("reason", v.Reason),
		slog.Float64("seconds_remaining", v.SecondsRemaining),
	)

	return evaluation{
		window:   w,
		snapshot: snap,
		estimate: est,
		verdict:  v,
		summary:  buildSummary(id, req, w, snap, est, v),
	}, nil
}

func buildSummary(id string, req domain.OrderRequest, w domain.Window, snap domain.DepthSnapshot, est domain.FillEstimate, v domain.Verdict) domain.OrderSummary {
	s := domain.OrderSummary{
		RequestID:        id,
		Side:             req.Side,
		Outcome:          w.LabelFor(req.Role),
		Kind:             req.Kind,
		LimitPrice:       req.Price,
		AveragePrice:     est.AveragePrice,
		BestPrice:        est.BestPrice,
		Size:             req.Size,
		Filled:           est.Filled,
		Unfilled:         est.Unfilled,
		SlippagePct:      v.SlippagePct,
		SecondsRemaining: v.SecondsRemaining,
		Level:            v.Level,
		Reason:           v.Reason,
		Override:         req.Override,
		WindowID:         w.ID,
		WindowTitle:      w.Title,
		CloseTime:        w.CloseTime,
	}
	if est.Partial() && est.Filled.IsPositive() {
		s.Warnings = append(s.Warnings, fmt.Sprintf("partial fill: book holds %s of %s shares",
			est.Filled.String(), est.Requested.String()))
	}
	if req.Kind == domain.OrderTypeGTC && req.Price.Valid {
		if ask, ok := snap.BestAsk(); ok && req.Price.Decimal.LessThan(ask) {
			s.Warnings = append(s.Warnings, fmt.Sprintf("limit %s is below best ask %s; the order will rest on the book",
				req.Price.Decimal.String(), ask.String()))
		}
	}
	return s
}

// confirmationDrift describes why a confirmation no longer matches the fresh
// evaluation, or returns "" when it still does.
func confirmationDrift(c Confirmation, ev evaluation) string {
	if c.WindowID != ev.window.ID {
		return fmt.Sprintf("window rotated since confirmation (now %s); confirm again", ev.window.Title)
	}
	confirmed := c.Level
	if confirmed == "" {
		confirmed = domain.LevelOK
	}
	if ev.verdict.Level.Severity() > confirmed.Severity() {
		return fmt.Sprintf("verdict changed from %s to %s since confirmation; confirm again", confirmed, ev.verdict.Level)
	}
	return ""
}

// payload builds the venue order. GTC uses the operator's limit; FOK asks for
// the worst level the simulation consumed, rounded up to the tick.
func (s *TradeService) payload(req domain.OrderRequest, ev evaluation) (domain.OrderPayload, error) {
	p := domain.OrderPayload{
		Token: ev.window.TokenFor(req.Role),
		Kind:  req.Kind,
		Size:  req.Size,
	}
	switch req.Kind {
	case domain.OrderTypeGTC:
		p.Price = req.Price.Decimal
	case domain.OrderTypeFOK:
		if !ev.estimate.WorstPrice.Valid {
			return p, fmt.Errorf("%w: no executable price for FOK order", domain.ErrInvalidOrder)
		}
		p.Price = MarketablePrice(ev.estimate.WorstPrice.Decimal, s.tickSize)
	}
	return p, nil
}

// MarketablePrice rounds price up to the next tick and caps it one tick below 1.
func MarketablePrice(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	p := price.Div(tick).Ceil().Mul(tick)
	ceiling := decimal.NewFromInt(1).Sub(tick)
	if p.GreaterThan(ceiling) {
		p = ceiling
	}
	return p
}

func (s *TradeService) finish(ctx context.Context, ev evaluation, state domain.TradeState, orderID, errMsg string) {
	now := s.now()

	if state.Terminal() {
		s.logger.InfoContext(ctx, "trade_service: request finished",
			slog.String("request_id", ev.summary.RequestID),
			slog.String("state", string(state)),
			slog.String("order_id", orderID),
		)
	}

	if s.metrics != nil && (state == domain.StateSubmitted || state == domain.StateSubmitFailed) {
		s.metrics.ObserveSubmission(state)
	}

	if s.journal != nil {
		rec := domain.RecordFromSummary(ev.summary, state, now)
		rec.OrderID = orderID
		rec.Error = errMsg
		rec.DryRun = s.dryRun
		if err := s.journal.Record(ctx, rec); err != nil {
			s.logger.WarnContext(ctx, "trade_service: journal record failed",
				slog.String("request_id", rec.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.archiver != nil {
		snap := ev.snapshot
		snap.TokenID = ""
		d := domain.Decision{Summary: ev.summary, State: state, Estimate: ev.estimate, Snapshot: snap}
		if err := s.archiver.ArchiveDecision(ctx, d); err != nil {
			s.logger.WarnContext(ctx, "trade_service: archive decision failed",
				slog.String("request_id", ev.summary.RequestID),
				slog.String("error", err.Error()),
			)
		}
	}

	event := domain.TradeEvent{
		Type:      eventType(state),
		State:     state,
		Summary:   ev.summary,
		OrderID:   orderID,
		Error:     errMsg,
		Timestamp: now,
	}

	if s.bus != nil {
		payload, err := json.Marshal(event)
		if err == nil {
			err = s.bus.Publish(ctx, s.channel, payload)
		}
		if err != nil {
			s.logger.WarnContext(ctx, "trade_service: publish event failed",
				slog.String("request_id", ev.summary.RequestID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.notifier != nil {
		if err := s.notifier.NotifyTrade(ctx, event); err != nil {
			s.logger.WarnContext(ctx, "trade_service: notify failed",
				slog.String("request_id", ev.summary.RequestID),
				slog.String("error", err.Error()),
			)
		}
	}
}

func eventType(state domain.TradeState) string {
	switch state {
	case domain.StateBlocked:
		return domain.EventTradeBlocked
	case domain.StateSubmitted:
		return domain.EventTradeSubmitted
	case domain.StateSubmitFailed:
		return domain.EventTradeFailed
	}
	return domain.EventTradeQuoted
}

func (s *TradeService) observeError(err error) {
	if s.metrics != nil {
		s.metrics.ObserveError(domain.Kind(err))
	}
}
