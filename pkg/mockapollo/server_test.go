package mockapollo_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shpitdev/contactsync/pkg/apollo"
	"github.com/shpitdev/contactsync/pkg/mockapollo"
)

func newClient(t *testing.T, srv *mockapollo.Server, key string) *apollo.Client {
	t.Helper()
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := apollo.NewClient(apollo.Config{BaseURL: ts.URL + "/v1", APIKey: key})
	if err != nil {
		t.Fatalf("new apollo client: %v", err)
	}
	return client
}

func TestMockApollo_DuplicateLabelConflicts(t *testing.T) {
	t.Parallel()

	srv := mockapollo.New()
	client := newClient(t, srv, "dummy-key")
	ctx := context.Background()

	first, err := client.CreateLabel(ctx, "Q3 Leads")
	if err != nil {
		t.Fatalf("create label: %v", err)
	}
	_, err = client.CreateLabel(ctx, "Q3 Leads")
	if err == nil {
		t.Fatalf("expected duplicate label to fail")
	}
	if !apollo.IsConflict(err) {
		t.Fatalf("expected conflict error, got: %v", err)
	}

	labels, err := client.ListLabels(ctx, "Q3 Leads")
	if err != nil {
		t.Fatalf("list labels: %v", err)
	}
	if len(labels) != 1 || labels[0].ID != first.ID {
		t.Fatalf("unexpected labels: %#v", labels)
	}
}

func TestMockApollo_DedupeUpdatesExistingContact(t *testing.T) {
	t.Parallel()

	srv := mockapollo.New()
	client := newClient(t, srv, "dummy-key")
	ctx := context.Background()

	a, err := client.CreateContact(ctx, map[string]any{"email": "a@x.com", "label_names": []string{"L"}, "run_dedupe": true})
	if err != nil {
		t.Fatalf("create contact: %v", err)
	}
	b, err := client.CreateContact(ctx, map[string]any{"email": "a@x.com", "title": "CTO", "label_names": []string{"L"}, "run_dedupe": true})
	if err != nil {
		t.Fatalf("re-create contact: %v", err)
	}
	if a.ID() != b.ID() {
		t.Fatalf("expected dedupe to keep id %q, got %q", a.ID(), b.ID())
	}
	if got := len(srv.Contacts()); got != 1 {
		t.Fatalf("expected 1 stored contact, got %d", got)
	}
	if b.String("title") != "CTO" {
		t.Fatalf("expected update to apply, got %#v", b)
	}
}

func TestMockApollo_SearchPaginatesByLabel(t *testing.T) {
	t.Parallel()

	srv := mockapollo.New()
	srv.SeedLabel("L1", "Leads")
	for i := 0; i < 5; i++ {
		srv.SeedContact(map[string]any{"email": strings.Repeat("a", i+1) + "@x.com"}, "L1")
	}
	srv.SeedContact(map[string]any{"email": "other@x.com"}, "L2")
	client := newClient(t, srv, "dummy-key")

	page, err := client.SearchContacts(context.Background(), apollo.SearchRequest{LabelIDs: []string{"L1"}, Page: 2, PerPage: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(page.Contacts) != 2 || page.Pagination.TotalPages != 3 || page.Pagination.TotalEntries != 5 {
		t.Fatalf("unexpected page: %#v", page)
	}
	if !page.Pagination.HasMore() {
		t.Fatalf("expected more pages after page 2")
	}
}

func TestMockApollo_RejectsWrongAPIKey(t *testing.T) {
	t.Parallel()

	srv := mockapollo.New()
	srv.RequireAPIKey("right-key")
	client := newClient(t, srv, "wrong-key")

	_, err := client.CreateLabel(context.Background(), "Leads")
	if !apollo.IsUnauthorized(err) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if strings.Contains(err.Error(), "wrong-key") {
		t.Fatalf("error leaks api key: %v", err)
	}
}

func TestMockApollo_InjectedFaults(t *testing.T) {
	t.Parallel()

	srv := mockapollo.New()
	srv.Inject(mockapollo.RouteCreateContact,
		mockapollo.Fault{Status: 429, Body: `{"error":"rate limited"}`},
		mockapollo.Fault{Drop: true},
	)
	client := newClient(t, srv, "dummy-key")
	ctx := context.Background()
	payload := map[string]any{"email": "a@x.com"}

	if _, err := client.CreateContact(ctx, payload); !apollo.IsRateLimited(err) {
		t.Fatalf("expected rate limit, got %v", err)
	}
	if _, err := client.CreateContact(ctx, payload); !apollo.IsTransport(err) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if _, err := client.CreateContact(ctx, payload); err != nil {
		t.Fatalf("expected success once faults drained, got %v", err)
	}
	if got := srv.CountCalls("POST", "/v1/contacts"); got != 3 {
		t.Fatalf("expected 3 calls, got %d", got)
	}
}

func TestMockApollo_DeleteContact(t *testing.T) {
	t.Parallel()

	srv := mockapollo.New()
	id := srv.SeedContact(map[string]any{"email": "a@x.com"}, "L1")
	client := newClient(t, srv, "dummy-key")
	ctx := context.Background()

	if err := client.DeleteContact(ctx, id); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if len(srv.Contacts()) != 0 {
		t.Fatalf("expected contact removed")
	}
	if err := client.DeleteContact(ctx, id); !apollo.IsNotFound(err) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}
