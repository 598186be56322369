package order

import "time"

type Status string

const (
	StatusPending    Status = "pending"
	StatusScheduled  Status = "scheduled"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCanceled   Status = "canceled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusScheduled, StatusInProgress, StatusCompleted, StatusCanceled:
		return true
	default:
		return false
	}
}

// Order is a service order document. Templates carry IsTemplate and a
// TemplateName; generated instances carry GeneratedByAgreementID. Body holds
// the free-form part of the document (description, line items, address...)
// and is stored as JSONB.
type Order struct {
	ID                     string
	TenantID               string
	ClientID               string
	ClientName             string
	Status                 Status
	IsTemplate             bool
	TemplateName           string
	DueDate                *time.Time
	GeneratedByAgreementID *string
	Body                   map[string]any
	ActivityLog            []ActivityEntry
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// ActivityEntry is one line of an order's activity log. ActorID is empty for
// system-generated entries.
type ActivityEntry struct {
	At      time.Time `json:"at"`
	Type    string    `json:"type"`
	Message string    `json:"message"`
	ActorID string    `json:"actorId,omitempty"`
}

const (
	// ActivityAutoGenerated marks an order created by the renewal pass.
	ActivityAutoGenerated = "auto_generated"

	// OutboxTopicGenerated is published for every order materialised from an agreement.
	OutboxTopicGenerated = "service_order.generated"
)

type Filters struct {
	TenantID    string
	AgreementID string
	Status      Status
	Templates   *bool
	Page        int
	PageSize    int
	SortKey     string
	SortOrder   string
}
