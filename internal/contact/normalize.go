package contact

import (
	"errors"
	"slices"
	"strings"

	"github.com/shpitdev/contactsync/pkg/pipeline/core"
	"github.com/shpitdev/contactsync/pkg/pipeline/io/local"
)

// ErrMissingEmail is returned when no accepted email column holds a value.
var ErrMissingEmail = errors.New("record has no email")

// Target fields sent to the directory service.
const (
	FieldEmail            = "email"
	FieldFirstName        = "first_name"
	FieldLastName         = "last_name"
	FieldOrganizationName = "organization_name"
	FieldTitle            = "title"
	FieldLinkedInURL      = "linkedin_url"
	FieldWebsiteURL       = "website_url"
)

// Fields lists the target fields in payload order.
var Fields = []string{
	FieldEmail,
	FieldFirstName,
	FieldLastName,
	FieldOrganizationName,
	FieldTitle,
	FieldLinkedInURL,
	FieldWebsiteURL,
}

// IsOverridable reports whether the header list of field may be replaced. The
// identity field always follows local.EmailColumns so loading and normalising agree.
func IsOverridable(field string) bool {
	return field != FieldEmail && slices.Contains(Fields, field)
}

// Synonyms maps a target field to the CSV headers accepted for it, in priority order.
type Synonyms map[string][]string

// DefaultSynonyms returns the built-in header table. The result is a fresh copy.
func DefaultSynonyms() Synonyms {
	return Synonyms{
		FieldEmail:            slices.Clone(local.EmailColumns),
		FieldFirstName:        {"first_name", "First Name", "FirstName", "firstName", "first name"},
		FieldLastName:         {"last_name", "Last Name", "LastName", "lastName", "last name"},
		FieldOrganizationName: {"company", "Company", "organization_name", "Organization", "company_name"},
		FieldTitle:            {"title", "Title", "Job Title", "job_title"},
		FieldLinkedInURL:      {"linkedin_url", "LinkedIn URL", "LinkedIn", "linkedin"},
		FieldWebsiteURL:       {"website", "Website", "website_url", "Company Website"},
	}
}

// Merge returns a copy of s where every field set in override replaces the built-in list.
// Empty override lists and fields that are not overridable are ignored.
func (s Synonyms) Merge(override map[string][]string) Synonyms {
	out := make(Synonyms, len(s)+len(override))
	for k, v := range s {
		out[k] = append([]string(nil), v...)
	}
	for k, v := range override {
		k = strings.TrimSpace(k)
		if !IsOverridable(k) || len(v) == 0 {
			continue
		}
		out[k] = append([]string(nil), v...)
	}
	return out
}

// Contact is a record mapped onto the target fields. Absent fields are not stored.
type Contact struct {
	fields map[string]string
}

// Normalize maps rec onto the target fields, first non-empty synonym wins.
// A nil table means DefaultSynonyms.
func Normalize(rec core.Record, synonyms Synonyms) (Contact, error) {
	if synonyms == nil {
		synonyms = DefaultSynonyms()
	}
	fields := make(map[string]string, len(synonyms))
	for field, headers := range synonyms {
		if v := firstValue(rec, headers); v != "" {
			fields[field] = v
		}
	}
	if fields[FieldEmail] == "" {
		return Contact{}, ErrMissingEmail
	}
	return Contact{fields: fields}, nil
}

func firstValue(rec core.Record, headers []string) string {
	for _, h := range headers {
		if v := strings.TrimSpace(rec[h]); v != "" {
			return v
		}
	}
	return ""
}

// Email returns the identity key.
func (c Contact) Email() string {
	return c.fields[FieldEmail]
}

// Get returns a present field.
func (c Contact) Get(field string) (string, bool) {
	v, ok := c.fields[field]
	return v, ok
}

// Len reports the number of present fields.
func (c Contact) Len() int {
	return len(c.fields)
}

// Payload builds the create-contact request body tagged with listName.
//
// Control flags are always set, including the false ones.
func (c Contact) Payload(listName string) map[string]any {
	out := make(map[string]any, len(c.fields)+4)
	for k, v := range c.fields {
		out[k] = v
	}
	out["label_names"] = []string{listName}
	out["run_dedupe"] = true
	out["reveal_phone_number"] = false
	out["reveal_personal_emails"] = false
	return out
}
