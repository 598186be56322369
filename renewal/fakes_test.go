package renewal

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"fieldflow/agreement"
	"fieldflow/order"
)

// memStore is the committed state seen by the fakes. Writes are staged on a
// fakeTx and only reach the store when the outermost transaction commits.
type memStore struct {
	agreements map[string]agreement.Agreement
	templates  map[string]order.Order
	orders     []order.Order
	events     []string
}

func newMemStore() *memStore {
	return &memStore{
		agreements: make(map[string]agreement.Agreement),
		templates:  make(map[string]order.Order),
	}
}

func (m *memStore) ordersFor(agreementID string) []order.Order {
	var out []order.Order
	for _, o := range m.orders {
		if o.GeneratedByAgreementID != nil && *o.GeneratedByAgreementID == agreementID {
			out = append(out, o)
		}
	}
	return out
}

type fakePool struct {
	store     *memStore
	begins    int
	beginErr  error
	commitErr error
	last      *fakeTx
}

func (f *fakePool) Begin(context.Context) (pgx.Tx, error) {
	if f.beginErr != nil {
		return nil, f.beginErr
	}
	f.begins++
	f.last = &fakeTx{pool: f}
	return f.last, nil
}

type fakeTx struct {
	pool       *fakePool
	parent     *fakeTx
	ops        []func(*memStore)
	savepoints int
	committed  bool
	rolled     bool
}

func (f *fakeTx) stage(op func(*memStore)) {
	f.ops = append(f.ops, op)
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	f.savepoints++
	return &fakeTx{pool: f.pool, parent: f}, nil
}

func (f *fakeTx) Commit(context.Context) error {
	if f.committed || f.rolled {
		return pgx.ErrTxClosed
	}
	if f.parent != nil {
		f.parent.ops = append(f.parent.ops, f.ops...)
		f.committed = true
		return nil
	}
	if f.pool.commitErr != nil {
		f.rolled = true
		return f.pool.commitErr
	}
	for _, op := range f.ops {
		op(f.pool.store)
	}
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	if f.committed || f.rolled {
		return nil
	}
	f.ops = nil
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}

type fakeAgreements struct {
	store      *memStore
	listErr    error
	listCalls  int
	advanceErr map[string]error
}

func (f *fakeAgreements) ListDue(_ context.Context, q agreement.DueQuery) ([]agreement.Agreement, error) {
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}

	var due []agreement.Agreement
	for _, a := range f.store.agreements {
		if a.Status != agreement.StatusActive || a.NextDueDate.After(q.Now) {
			continue
		}
		if q.TenantID != "" && a.TenantID != q.TenantID {
			continue
		}
		due = append(due, a)
	}
	sort.Slice(due, func(i, j int) bool {
		if !due[i].NextDueDate.Equal(due[j].NextDueDate) {
			return due[i].NextDueDate.Before(due[j].NextDueDate)
		}
		return due[i].ID < due[j].ID
	})

	out := make([]agreement.Agreement, 0, q.Limit)
	for _, a := range due {
		if !q.After.IsZero() {
			if a.NextDueDate.Before(q.After.NextDueDate) ||
				(a.NextDueDate.Equal(q.After.NextDueDate) && a.ID <= q.After.ID) {
				continue
			}
		}
		out = append(out, a)
		if len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

func (f *fakeAgreements) Advance(_ context.Context, tx pgx.Tx, p agreement.AdvanceParams) error {
	if err := f.advanceErr[p.AgreementID]; err != nil {
		return err
	}
	if !p.NextDueDate.After(p.ExpectedDueDate) {
		return agreement.ErrNotAdvancing
	}
	current, ok := f.store.agreements[p.AgreementID]
	if !ok || current.Status != agreement.StatusActive || !current.NextDueDate.Equal(p.ExpectedDueDate) {
		return agreement.ErrScheduleConflict
	}
	tx.(*fakeTx).stage(func(m *memStore) {
		a := m.agreements[p.AgreementID]
		a.NextDueDate = p.NextDueDate
		at := p.GeneratedAt
		a.LastGeneratedAt = &at
		a.UpdatedAt = p.GeneratedAt
		m.agreements[p.AgreementID] = a
	})
	return nil
}

type fakeOrders struct {
	store       *memStore
	templateErr error
	insertErr   map[string]error
}

func (f *fakeOrders) GetTemplate(_ context.Context, tenantID, id string) (order.Order, error) {
	if f.templateErr != nil {
		return order.Order{}, f.templateErr
	}
	t, ok := f.store.templates[id]
	if !ok || t.TenantID != tenantID {
		return order.Order{}, order.ErrTemplateNotFound
	}
	return t, nil
}

func (f *fakeOrders) Insert(_ context.Context, tx pgx.Tx, o order.Order) (order.Order, error) {
	if o.GeneratedByAgreementID != nil {
		if err := f.insertErr[*o.GeneratedByAgreementID]; err != nil {
			return order.Order{}, err
		}
		for _, existing := range f.store.ordersFor(*o.GeneratedByAgreementID) {
			if existing.DueDate.Equal(*o.DueDate) {
				return order.Order{}, order.ErrDuplicateOccurrence
			}
		}
	}
	tx.(*fakeTx).stage(func(m *memStore) {
		m.orders = append(m.orders, o)
	})
	return o, nil
}

type fakeOutbox struct {
	err error
}

func (f *fakeOutbox) Enqueue(_ context.Context, tx pgx.Tx, topic string, _ map[string]any) error {
	if f.err != nil {
		return f.err
	}
	tx.(*fakeTx).stage(func(m *memStore) {
		m.events = append(m.events, topic)
	})
	return nil
}

var errStorageDown = errors.New("connection refused")

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}
