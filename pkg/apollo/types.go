package apollo

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ModalityContacts scopes labels to contact records.
const ModalityContacts = "contacts"

// Label is a named list applied to remote records.
type Label struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Modality string `json:"modality,omitempty"`
}

// Contact is a remote contact as returned by the service. The field set is open-ended,
// so it is kept as decoded JSON.
type Contact map[string]any

// ID returns the service-assigned identifier, or "".
func (c Contact) ID() string {
	return c.String("id")
}

// String returns field as trimmed text. Missing, null and non-scalar values yield "".
func (c Contact) String(field string) string {
	v, ok := c[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64, bool:
		return fmt.Sprint(t)
	default:
		return ""
	}
}

// SearchRequest selects one page of contacts carrying the given labels.
type SearchRequest struct {
	LabelIDs []string `json:"contact_label_ids"`
	Page     int      `json:"page"`
	PerPage  int      `json:"per_page"`
}

// Pagination is the paging block of a search response.
type Pagination struct {
	Page         int `json:"page"`
	PerPage      int `json:"per_page"`
	TotalEntries int `json:"total_entries"`
	TotalPages   int `json:"total_pages"`
}

// HasMore reports whether pages after the current one exist.
func (p Pagination) HasMore() bool {
	return p.Page < p.TotalPages
}

// SearchPage is one page of search results.
type SearchPage struct {
	Contacts   []Contact  `json:"contacts"`
	Pagination Pagination `json:"pagination"`
}

type labelEnvelope struct {
	Label Label `json:"label"`
}

type labelsEnvelope struct {
	Labels []Label `json:"labels"`
}

type contactEnvelope struct {
	Contact Contact `json:"contact"`
}
