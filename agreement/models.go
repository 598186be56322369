package agreement

import "time"

type Status string

const (
	StatusActive   Status = "active"
	StatusPaused   Status = "paused"
	StatusCanceled Status = "canceled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusPaused, StatusCanceled:
		return true
	default:
		return false
	}
}

// Frequency is the renewal interval of an agreement. It is fixed at creation.
type Frequency string

const (
	FrequencyMonthly      Frequency = "monthly"
	FrequencyQuarterly    Frequency = "quarterly"
	FrequencySemiannually Frequency = "semiannually"
	FrequencyAnnually     Frequency = "annually"
)

func (f Frequency) Valid() bool {
	_, ok := frequencyMonths[f]
	return ok
}

// Agreement mirrors the service_agreements table. ClientName is a snapshot
// taken when the agreement was created and is copied onto generated orders.
// TemplateID may reference an order that no longer exists.
type Agreement struct {
	ID              string
	TenantID        string
	ClientID        string
	ClientName      string
	Status          Status
	Frequency       Frequency
	NextDueDate     time.Time
	TemplateID      string
	LastGeneratedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Cursor is a keyset position in the (next_due_date, id) ordering used by
// ListDue. The zero value starts from the beginning.
type Cursor struct {
	NextDueDate time.Time
	ID          string
}

func (c Cursor) IsZero() bool {
	return c.ID == "" && c.NextDueDate.IsZero()
}

// CursorOf returns the position just after a.
func CursorOf(a Agreement) Cursor {
	return Cursor{NextDueDate: a.NextDueDate, ID: a.ID}
}

// DueQuery selects active agreements with next_due_date <= Now.
type DueQuery struct {
	TenantID string
	Now      time.Time
	After    Cursor
	Limit    int
}

// AdvanceParams describes a compare-and-swap schedule advance. The update only
// applies while the stored next_due_date still equals ExpectedDueDate and the
// agreement is active.
type AdvanceParams struct {
	AgreementID     string
	TenantID        string
	ExpectedDueDate time.Time
	NextDueDate     time.Time
	GeneratedAt     time.Time
}

type CreateParams struct {
	TenantID     string
	ClientID     string
	TemplateID   string
	Frequency    Frequency
	FirstDueDate time.Time
}

type ListFilters struct {
	TenantID string
	Status   Status
	Page     int
	PageSize int
}

type TransitionParams struct {
	TenantID    string
	AgreementID string
	ActorID     string
	NextStatus  Status
	Reason      string
}

const (
	// OutboxTopicCreated is published when an agreement is created.
	OutboxTopicCreated = "service_agreement.created"
	// OutboxTopicStatusChanged is published on pause, resume and cancel.
	OutboxTopicStatusChanged = "service_agreement.status_changed"
)
