// Package transfer coordinates a funds transfer across the ledger and the audit log.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/walletmesh/walletmesh/internal/audit"
	"github.com/walletmesh/walletmesh/internal/ledger"
	"github.com/walletmesh/walletmesh/internal/metrics"
	"github.com/walletmesh/walletmesh/internal/notification"
	"github.com/walletmesh/walletmesh/internal/retry"
)

var (
	// ErrMissingParameters is returned when an identity field is blank.
	ErrMissingParameters = errors.New("missing parameters")

	// ErrSystem means the ledger could not be reached within the retry budget.
	// No money moved as far as the orchestrator knows, but it could not confirm it.
	ErrSystem = errors.New("transfer could not be confirmed")

	// ErrAuditWrite marks a transfer whose audit record could not be written
	// after the ledger committed.
	ErrAuditWrite = errors.New("audit write failed")
)

// WarningAuditWriteFailed is the warning returned with a degraded success.
const WarningAuditWriteFailed = "audit write failed"

// State is a step of the transfer state machine.
type State string

const (
	StateValidating      State = "validating"
	StateCallingLedger   State = "calling_ledger"
	StateAuditWriting    State = "audit_writing"
	StateRejected        State = "rejected"
	StateCommitted       State = "committed"
	StateDegradedSuccess State = "degraded_success"
	StateSystemError     State = "system_error"
)

// Terminal reports whether no further step follows s.
func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateCommitted, StateDegradedSuccess, StateSystemError:
		return true
	}
	return false
}

// Ledger performs the atomic debit and credit.
type Ledger interface {
	Transfer(ctx context.Context, in ledger.TransferInput) (ledger.TransferResult, error)
}

// AuditLog records completed transfers.
type AuditLog interface {
	Append(ctx context.Context, rec audit.Record) error
}

// Notifier receives operator alerts for transfers that need reconciliation.
type Notifier interface {
	Send(ctx context.Context, message notification.Message) error
}

// Request is one transfer as submitted by a caller.
type Request struct {
	// RequestID deduplicates retries. A blank ID is replaced with a generated one.
	RequestID string
	Sender    ledger.AccountKey
	Receiver  ledger.AccountKey
	Amount    decimal.Decimal
	// OccurredAt is the caller's timestamp; zero means now.
	OccurredAt time.Time
}

// Validate checks the request without touching any collaborator.
func (r Request) Validate() error {
	for _, v := range []string{r.Sender.Owner, r.Sender.Phone, r.Receiver.Owner, r.Receiver.Phone} {
		if strings.TrimSpace(v) == "" {
			return ErrMissingParameters
		}
	}
	if !ledger.ValidAmount(r.Amount) {
		return ledger.ErrInvalidAmount
	}
	return nil
}

// Result is the caller-visible outcome of a transfer.
type Result struct {
	State              State
	RequestID          string
	SenderRemaining    decimal.Decimal
	ReceiverNewBalance decimal.Decimal
	// Warning is set on degraded success.
	Warning string
	// Replayed is set when the ledger had already applied this request ID.
	Replayed bool
}

// Succeeded reports whether money moved.
func (r Result) Succeeded() bool {
	return r.State == StateCommitted || r.State == StateDegradedSuccess
}

// Config tunes ledger retries and collaborator timeouts.
type Config struct {
	MaxAttempts    int
	Backoff        retry.Curve
	AttemptTimeout time.Duration
	AuditTimeout   time.Duration
}

// DefaultConfig returns three attempts with a linear 150ms backoff and 5s timeouts.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		Backoff:        retry.Linear(150 * time.Millisecond),
		AttemptTimeout: 5 * time.Second,
		AuditTimeout:   5 * time.Second,
	}
}

// Service runs the transfer saga.
type Service struct {
	ledger   Ledger
	audit    AuditLog
	notifier Notifier
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      Config
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithNotifier sets where degraded-success alerts go.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithConfig overrides DefaultConfig. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(s *Service) {
		if cfg.MaxAttempts > 0 {
			s.cfg.MaxAttempts = cfg.MaxAttempts
		}
		if cfg.Backoff != nil {
			s.cfg.Backoff = cfg.Backoff
		}
		if cfg.AttemptTimeout > 0 {
			s.cfg.AttemptTimeout = cfg.AttemptTimeout
		}
		if cfg.AuditTimeout > 0 {
			s.cfg.AuditTimeout = cfg.AuditTimeout
		}
	}
}

// WithClock sets the time source used for audit timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// New builds a Service. The ledger and audit log are required.
func New(l Ledger, a AuditLog, opts ...Option) (*Service, error) {
	if l == nil {
		return nil, errors.New("ledger is required")
	}
	if a == nil {
		return nil, errors.New("audit log is required")
	}
	s := &Service{
		ledger: l,
		audit:  a,
		logger: slog.Default(),
		cfg:    DefaultConfig(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Transfer validates req, moves the money through the ledger and records it
// in the audit log.
//
// The returned error is nil for Committed and DegradedSuccess. For Rejected it
// is the business reason (ledger sentinels or ErrMissingParameters) and for
// SystemError it wraps ErrSystem. Once the ledger call starts it is not
// aborted by ctx; a cancelled caller only stops waiting between attempts.
func (s *Service) Transfer(ctx context.Context, req Request) (Result, error) {
	res := Result{State: StateValidating, RequestID: req.RequestID}
	if err := req.Validate(); err != nil {
		return s.finish(ctx, res, StateRejected, err)
	}
	if res.RequestID == "" {
		res.RequestID = uuid.NewString()
	}

	res.State = StateCallingLedger
	out, err := s.callLedger(ctx, ledger.TransferInput{
		RequestID: res.RequestID,
		Sender:    req.Sender,
		Receiver:  req.Receiver,
		Amount:    req.Amount,
	})
	if err != nil {
		if isBusiness(err) {
			return s.finish(ctx, res, StateRejected, err)
		}
		return s.finish(ctx, res, StateSystemError, fmt.Errorf("%w: %w", ErrSystem, err))
	}
	res.SenderRemaining = out.SenderRemaining
	res.ReceiverNewBalance = out.ReceiverNewBalance
	res.Replayed = out.Replayed

	res.State = StateAuditWriting
	occurred := req.OccurredAt
	if occurred.IsZero() {
		occurred = s.now()
	}
	rec := audit.Record{
		ID:         uuid.NewString(),
		RequestID:  res.RequestID,
		Sender:     req.Sender,
		Receiver:   req.Receiver,
		Amount:     req.Amount,
		OccurredAt: occurred.UTC(),
		RecordedAt: s.now().UTC(),
	}
	if err := s.appendAudit(ctx, rec); err != nil {
		res.Warning = WarningAuditWriteFailed
		s.alert(ctx, rec, fmt.Errorf("%w: %w", ErrAuditWrite, err))
		return s.finish(ctx, res, StateDegradedSuccess, nil)
	}
	return s.finish(ctx, res, StateCommitted, nil)
}

func (s *Service) callLedger(ctx context.Context, in ledger.TransferInput) (ledger.TransferResult, error) {
	var out ledger.TransferResult
	err := retry.Do(ctx, retry.Policy{
		MaxAttempts: s.cfg.MaxAttempts,
		Backoff:     s.cfg.Backoff,
		Retryable: func(err error) bool {
			return errors.Is(err, ledger.ErrStoreUnavailable)
		},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			s.logger.Warn("ledger transfer attempt failed, retrying",
				slog.String("request_id", in.RequestID),
				slog.Int("attempt", attempt),
				slog.Duration("backoff", delay),
				slog.Any("error", err),
			)
		},
	}, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AttemptTimeout)
		defer cancel()

		start := time.Now()
		r, err := s.ledger.Transfer(attemptCtx, in)
		s.metrics.ObserveLedgerAttempt(attemptResult(err), time.Since(start))
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, ledger.ErrStoreUnavailable) {
				err = fmt.Errorf("%w: attempt timed out: %w", ledger.ErrStoreUnavailable, err)
			}
			return err
		}
		out = r
		return nil
	})
	return out, err
}

func (s *Service) appendAudit(ctx context.Context, rec audit.Record) error {
	auditCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AuditTimeout)
	defer cancel()
	return s.audit.Append(auditCtx, rec)
}

func (s *Service) alert(ctx context.Context, rec audit.Record, cause error) {
	s.metrics.IncAuditFailure()
	s.logger.Error("transfer committed without audit record",
		slog.String("request_id", rec.RequestID),
		slog.String("sender", rec.Sender.String()),
		slog.String("receiver", rec.Receiver.String()),
		slog.String("amount", rec.Amount.String()),
		slog.Any("error", cause),
	)
	if s.notifier == nil {
		return
	}
	err := s.notifier.Send(context.WithoutCancel(ctx), notification.Message{
		Kind:      notification.KindAuditWriteFailed,
		Reference: rec.RequestID,
		Body:      cause.Error(),
		Fields: map[string]string{
			"sender":      rec.Sender.String(),
			"receiver":    rec.Receiver.String(),
			"amount":      rec.Amount.String(),
			"occurred_at": rec.OccurredAt.Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		s.logger.Error("send operator alert", slog.String("request_id", rec.RequestID), slog.Any("error", err))
	}
}

func (s *Service) finish(ctx context.Context, res Result, state State, err error) (Result, error) {
	if !state.Terminal() {
		err = errors.Join(err, fmt.Errorf("transfer stopped in non-terminal state %s", state))
		state = StateSystemError
	}
	res.State = state
	s.metrics.IncTransferOutcome(string(state))

	level := slog.LevelInfo
	attrs := []slog.Attr{
		slog.String("request_id", res.RequestID),
		slog.String("state", string(state)),
	}
	if res.Replayed {
		attrs = append(attrs, slog.Bool("replayed", true))
	}
	if res.Succeeded() {
		attrs = append(attrs, slog.Bool("money_moved", true))
	}
	if err != nil {
		attrs = append(attrs, slog.Any("error", err))
		if state == StateSystemError {
			level = slog.LevelError
		}
	}
	s.logger.LogAttrs(ctx, level, "transfer finished", attrs...)
	return res, err
}

// isBusiness reports whether err is a definitive answer from the ledger that
// must be forwarded to the caller instead of retried.
func isBusiness(err error) bool {
	for _, target := range []error{
		ErrMissingParameters,
		ledger.ErrInvalidAmount,
		ledger.ErrInvalidAccount,
		ledger.ErrSameAccount,
		ledger.ErrSenderNotFound,
		ledger.ErrInsufficientFunds,
		ledger.ErrRequestConflict,
		ledger.ErrRejectedByStore,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func attemptResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case isBusiness(err):
		return "rejected"
	default:
		return "unavailable"
	}
}
