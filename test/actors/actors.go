package actors

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"fieldflow/agreement"
	"fieldflow/outbox"
	"fieldflow/renewal"
)

// SimClock is a wall clock that Advance pushes forward, so agreements keep
// falling due while the stress test runs.
type SimClock struct {
	start  time.Time
	offset atomic.Int64
}

func NewSimClock(start time.Time) *SimClock {
	return &SimClock{start: start.UTC()}
}

func (c *SimClock) Now() time.Time {
	return c.start.Add(time.Duration(c.offset.Load()))
}

func (c *SimClock) Advance(d time.Duration) {
	c.offset.Add(int64(d))
}

// Clock advances sim by step every tick.
func Clock(ctx context.Context, sim *SimClock, step, every time.Duration, stop <-chan struct{}) error {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		case <-ticker.C:
			sim.Advance(step)
		}
	}
}

// Renewer runs renewal passes back to back. Aborted passes are expected when
// chaos kills connections; they must leave no partial pair behind.
func Renewer(ctx context.Context, svc *renewal.Service, sim *SimClock, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := svc.Run(ctx, renewal.RunOptions{Now: sim.Now()}); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(time.Duration(5+rand.Intn(20)) * time.Millisecond)
	}
}

// Pauser flips random agreements between active and paused while passes run.
func Pauser(ctx context.Context, statuses *agreement.StatusService, tenantID string, ids []string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		id := ids[rand.Intn(len(ids))]
		next := agreement.StatusPaused
		if rand.Intn(2) == 0 {
			next = agreement.StatusActive
		}
		_, err := statuses.Transition(ctx, agreement.TransitionParams{
			TenantID:    tenantID,
			AgreementID: id,
			ActorID:     "stress-pauser",
			NextStatus:  next,
		})
		if err != nil && !errors.Is(err, agreement.ErrInvalidTransition) && ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// TemplateFlipper hides and restores the shared template so passes hit the
// template-missing skip path.
func TemplateFlipper(ctx context.Context, pool *pgxpool.Pool, templateID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			_, _ = pool.Exec(context.Background(), `UPDATE service_orders SET is_template = true WHERE id = $1`, templateID)
			return nil
		default:
		}
		_, _ = pool.Exec(ctx, `UPDATE service_orders SET is_template = NOT is_template WHERE id = $1`, templateID)
		time.Sleep(time.Duration(100+rand.Intn(200)) * time.Millisecond)
	}
}

// OutboxWorker drains the outbox through the relay.
func OutboxWorker(ctx context.Context, relay *outbox.Relay, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		if _, err := relay.RunOnce(ctx); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(100 * time.Millisecond)
	}
}
