package order

import (
	"fmt"
	"time"
)

// templateOnlyKeys are body keys that only make sense on a template.
var templateOnlyKeys = []string{"templateName", "isTemplate"}

// InstanceParams carries the run-specific fields of a generated order.
type InstanceParams struct {
	OrderID     string
	AgreementID string
	ClientID    string
	ClientName  string
	DueDate     time.Time
	Now         time.Time
}

// Materialize builds a new independent order from template. The body is deep
// copied, so later edits to the template never reach the instance.
func Materialize(template Order, p InstanceParams) Order {
	body := copyMap(template.Body)
	for _, k := range templateOnlyKeys {
		delete(body, k)
	}

	due := p.DueDate
	agreementID := p.AgreementID

	return Order{
		ID:                     p.OrderID,
		TenantID:               template.TenantID,
		ClientID:               p.ClientID,
		ClientName:             p.ClientName,
		Status:                 StatusPending,
		IsTemplate:             false,
		DueDate:                &due,
		GeneratedByAgreementID: &agreementID,
		Body:                   body,
		ActivityLog: []ActivityEntry{{
			At:      p.Now,
			Type:    ActivityAutoGenerated,
			Message: fmt.Sprintf("Generated automatically from service agreement %s", p.AgreementID),
		}},
		CreatedAt: p.Now,
		UpdatedAt: p.Now,
	}
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = copyValue(t[i])
		}
		return out
	case []map[string]any:
		out := make([]map[string]any, len(t))
		for i := range t {
			out[i] = copyMap(t[i])
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
