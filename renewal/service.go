package renewal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"fieldflow/agreement"
	"fieldflow/logging"
	"fieldflow/order"
)

// SkipReason explains why an agreement produced no order in a run.
type SkipReason string

const (
	SkipTemplateMissing  SkipReason = "template_missing"
	SkipUnknownFrequency SkipReason = "unknown_frequency"
	SkipScheduleConflict SkipReason = "schedule_conflict"
	SkipWriteFailed      SkipReason = "write_failed"
)

// Summary reports the outcome of one renewal pass.
type Summary struct {
	OK         bool      `json:"ok"`
	Generated  int       `json:"generated"`
	Skipped    int       `json:"skipped"`
	Conflicts  int       `json:"conflicts"`
	Failed     int       `json:"failed"`
	Message    string    `json:"message"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// RunOptions narrows a single pass. Zero values mean every tenant and the
// service clock.
type RunOptions struct {
	TenantID string
	Now      time.Time
}

type Options struct {
	// PageSize bounds one selector query. It is capped at agreement.MaxDuePage.
	PageSize int
	// ChunkSize is the number of agreements committed per transaction.
	ChunkSize int
	// MaxPerRun caps the agreements considered in one pass; 0 means no cap.
	MaxPerRun int
}

func DefaultOptions() Options {
	return Options{PageSize: 200, ChunkSize: 50}
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type AgreementStore interface {
	ListDue(ctx context.Context, q agreement.DueQuery) ([]agreement.Agreement, error)
	Advance(ctx context.Context, tx pgx.Tx, params agreement.AdvanceParams) error
}

type OrderStore interface {
	GetTemplate(ctx context.Context, tenantID, id string) (order.Order, error)
	Insert(ctx context.Context, tx pgx.Tx, o order.Order) (order.Order, error)
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Service struct {
	pool        TxBeginner
	agreements  AgreementStore
	orders      OrderStore
	outbox      OutboxWriter
	logger      *zap.Logger
	opts        Options
	idGenerator func() string
	now         func() time.Time
}

func NewService(pool TxBeginner, agreements AgreementStore, orders OrderStore, outbox OutboxWriter, logger *zap.Logger, opts Options) *Service {
	def := DefaultOptions()
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.PageSize > agreement.MaxDuePage {
		opts.PageSize = agreement.MaxDuePage
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.MaxPerRun < 0 {
		opts.MaxPerRun = 0
	}
	return &Service{
		pool:        pool,
		agreements:  agreements,
		orders:      orders,
		outbox:      outbox,
		logger:      logging.OrNop(logger).Named("renewal"),
		opts:        opts,
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// candidate is an agreement that passed the pre-write checks.
type candidate struct {
	agreement agreement.Agreement
	template  order.Order
	next      time.Time
}

type templateKey struct {
	tenantID string
	id       string
}

type templateResult struct {
	template order.Order
	found    bool
}

// run holds the state of one pass.
type run struct {
	now       time.Time
	summary   Summary
	templates map[templateKey]templateResult
}

// Run executes one renewal pass. Per-agreement problems are logged, counted
// and skipped. A returned error means the pass aborted; chunks committed
// before the failure stay committed and the summary reports what they did.
func (s *Service) Run(ctx context.Context, opts RunOptions) (Summary, error) {
	now := opts.Now
	if now.IsZero() {
		now = s.now()
	}
	now = now.UTC()

	r := &run{
		now:       now,
		summary:   Summary{StartedAt: now},
		templates: make(map[templateKey]templateResult),
	}

	log := s.logger.With(zap.Time("now", now))
	if opts.TenantID != "" {
		log = log.With(zap.String("tenant_id", opts.TenantID))
	}
	log.Info("renewal run started")

	if err := s.process(ctx, log, r, opts.TenantID); err != nil {
		r.summary.OK = false
		r.summary.Message = err.Error()
		r.summary.FinishedAt = s.now().UTC()
		log.Error("renewal run failed",
			zap.Error(err),
			zap.Int("generated", r.summary.Generated),
			zap.Int("skipped", r.summary.Skipped),
			zap.Int("conflicts", r.summary.Conflicts),
			zap.Int("failed", r.summary.Failed),
		)
		return r.summary, err
	}

	r.summary.OK = true
	r.summary.Message = describe(r.summary)
	r.summary.FinishedAt = s.now().UTC()
	log.Info("renewal run finished",
		zap.Int("generated", r.summary.Generated),
		zap.Int("skipped", r.summary.Skipped),
		zap.Int("conflicts", r.summary.Conflicts),
		zap.Int("failed", r.summary.Failed),
		zap.Duration("elapsed", r.summary.FinishedAt.Sub(r.summary.StartedAt)),
	)
	return r.summary, nil
}

func (s *Service) process(ctx context.Context, log *zap.Logger, r *run, tenantID string) error {
	var (
		cursor agreement.Cursor
		chunk  []agreement.Agreement
		seen   = make(map[string]struct{})
	)

paging:
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("renewal: %w", err)
		}
		page, err := s.agreements.ListDue(ctx, agreement.DueQuery{
			TenantID: tenantID,
			Now:      r.now,
			After:    cursor,
			Limit:    s.opts.PageSize,
		})
		if err != nil {
			return fmt.Errorf("renewal: select due agreements: %w", err)
		}
		// Only an empty page ends the scan; a store may return fewer rows
		// than asked for before it is exhausted.
		if len(page) == 0 {
			break
		}

		for _, a := range page {
			cursor = agreement.CursorOf(a)
			// An advanced agreement that is still overdue sorts again later
			// in the same pass; it waits for the next run.
			if _, ok := seen[a.ID]; ok {
				continue
			}
			if s.opts.MaxPerRun > 0 && len(seen) >= s.opts.MaxPerRun {
				break paging
			}
			seen[a.ID] = struct{}{}

			chunk = append(chunk, a)
			if len(chunk) >= s.opts.ChunkSize {
				if err := s.processChunk(ctx, log, r, chunk); err != nil {
					return err
				}
				chunk = chunk[:0]
			}
		}
	}

	if len(chunk) > 0 {
		return s.processChunk(ctx, log, r, chunk)
	}
	return nil
}

// processChunk commits the renewals of chunk in one transaction. Each
// agreement is written inside its own savepoint so a failed pair is discarded
// without touching the others.
func (s *Service) processChunk(ctx context.Context, log *zap.Logger, r *run, chunk []agreement.Agreement) error {
	var skipped int
	candidates := make([]candidate, 0, len(chunk))
	for _, a := range chunk {
		c, reason, err := s.prepare(ctx, r, a)
		if err != nil {
			return err
		}
		if reason != "" {
			skipped++
			skipLog(log, a, reason, nil)
			continue
		}
		candidates = append(candidates, c)
	}
	if len(candidates) == 0 {
		r.summary.Skipped += skipped
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("renewal: begin chunk: %w", err)
	}
	defer tx.Rollback(ctx)

	var generated, conflicts, failed int
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("renewal: %w", err)
		}

		sp, err := tx.Begin(ctx)
		if err != nil {
			return fmt.Errorf("renewal: begin savepoint: %w", err)
		}

		if err := s.renew(ctx, sp, r.now, c); err != nil {
			if rbErr := sp.Rollback(ctx); rbErr != nil {
				return fmt.Errorf("renewal: rollback savepoint: %w", errors.Join(rbErr, err))
			}
			if isContextErr(err) {
				return fmt.Errorf("renewal: %w", err)
			}
			reason := SkipWriteFailed
			if errors.Is(err, agreement.ErrScheduleConflict) || errors.Is(err, order.ErrDuplicateOccurrence) {
				reason = SkipScheduleConflict
				conflicts++
			} else {
				failed++
			}
			skipLog(log, c.agreement, reason, err)
			continue
		}

		if err := sp.Commit(ctx); err != nil {
			return fmt.Errorf("renewal: release savepoint: %w", err)
		}
		generated++
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("renewal: commit chunk: %w", err)
	}

	r.summary.Generated += generated
	r.summary.Skipped += skipped
	r.summary.Conflicts += conflicts
	r.summary.Failed += failed
	return nil
}

// prepare resolves the template and the next due date of a. A non-empty
// reason means a is skipped for this run; an error aborts the run.
func (s *Service) prepare(ctx context.Context, r *run, a agreement.Agreement) (candidate, SkipReason, error) {
	next, err := agreement.NextDueDate(a.NextDueDate, a.Frequency)
	if err != nil {
		return candidate{}, SkipUnknownFrequency, nil
	}

	key := templateKey{tenantID: a.TenantID, id: a.TemplateID}
	res, ok := r.templates[key]
	if !ok {
		tmpl, err := s.orders.GetTemplate(ctx, a.TenantID, a.TemplateID)
		switch {
		case err == nil:
			res = templateResult{template: tmpl, found: true}
		case errors.Is(err, order.ErrTemplateNotFound):
			res = templateResult{}
		default:
			return candidate{}, "", fmt.Errorf("renewal: load template %s: %w", a.TemplateID, err)
		}
		r.templates[key] = res
	}
	if !res.found {
		return candidate{}, SkipTemplateMissing, nil
	}

	return candidate{agreement: a, template: res.template, next: next}, "", nil
}

// renew writes the order, advances the schedule and enqueues the event.
func (s *Service) renew(ctx context.Context, tx pgx.Tx, now time.Time, c candidate) error {
	a := c.agreement

	instance := order.Materialize(c.template, order.InstanceParams{
		OrderID:     s.idGenerator(),
		AgreementID: a.ID,
		ClientID:    a.ClientID,
		ClientName:  a.ClientName,
		DueDate:     a.NextDueDate,
		Now:         now,
	})
	instance.TenantID = a.TenantID

	created, err := s.orders.Insert(ctx, tx, instance)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	err = s.agreements.Advance(ctx, tx, agreement.AdvanceParams{
		AgreementID:     a.ID,
		TenantID:        a.TenantID,
		ExpectedDueDate: a.NextDueDate,
		NextDueDate:     c.next,
		GeneratedAt:     now,
	})
	if err != nil {
		return fmt.Errorf("advance schedule: %w", err)
	}

	if s.outbox != nil {
		payload := map[string]any{
			"order_id":      created.ID,
			"agreement_id":  a.ID,
			"tenant_id":     a.TenantID,
			"due_date":      a.NextDueDate,
			"next_due_date": c.next,
		}
		if err := s.outbox.Enqueue(ctx, tx, order.OutboxTopicGenerated, payload); err != nil {
			return fmt.Errorf("enqueue outbox: %w", err)
		}
	}
	return nil
}

func skipLog(log *zap.Logger, a agreement.Agreement, reason SkipReason, err error) {
	fields := []zap.Field{
		zap.String("agreement_id", a.ID),
		zap.String("tenant_id", a.TenantID),
		zap.String("reason", string(reason)),
		zap.Time("next_due_date", a.NextDueDate),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	log.Warn("agreement skipped", fields...)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func describe(s Summary) string {
	if s.Generated == 0 && s.Skipped == 0 && s.Conflicts == 0 && s.Failed == 0 {
		return "no service agreements due"
	}
	return fmt.Sprintf("generated %d service orders (skipped %d, conflicts %d, failed %d)",
		s.Generated, s.Skipped, s.Conflicts, s.Failed)
}
