package listsync_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/contactsync/internal/listsync"
	"github.com/shpitdev/contactsync/pkg/apollo"
	"github.com/shpitdev/contactsync/pkg/mockapollo"
)

func TestResolveList_TwiceYieldsSameID(t *testing.T) {
	h := newHarness(t)
	s := h.syncer(fastOptions())
	ctx := testContext(t)

	first, err := s.ResolveList(ctx, "Q3 Leads")
	require.NoError(t, err)
	second, err := s.ResolveList(ctx, "Q3 Leads")
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.Equal(t, first, second)
	assert.Len(t, h.srv.Labels(), 1)
	assert.Equal(t, 1, h.srv.CountCalls("GET", "/v1/labels"), "only the conflicting call looks up by name")
}

func TestResolveList_ConflictFallsBackToLookup(t *testing.T) {
	h := newHarness(t)
	h.srv.SeedLabel("L123", "Q3 Leads")
	h.srv.SeedLabel("L999", "Q3 Leads archive")

	got, err := h.syncer(fastOptions()).ResolveList(testContext(t), "Q3 Leads")
	require.NoError(t, err)
	assert.Equal(t, listsync.ListHandle{ID: "L123", Name: "Q3 Leads"}, got)
}

func TestResolveList_ConflictWithoutExactMatch(t *testing.T) {
	h := newHarness(t)
	h.srv.SeedLabel("L999", "Q3 Leads archive")
	h.srv.Inject(mockapollo.RouteCreateLabel, mockapollo.Fault{Status: 422, Body: `{"error":"Label Already Exists"}`})

	_, err := h.syncer(fastOptions()).ResolveList(testContext(t), "Q3 Leads")
	require.ErrorIs(t, err, listsync.ErrListUnresolved)
}

func TestResolveList_OtherFailureIsUnresolved(t *testing.T) {
	h := newHarness(t)
	h.srv.RequireAPIKey("another-key")

	_, err := h.syncer(fastOptions()).ResolveList(testContext(t), "Q3 Leads")
	require.ErrorIs(t, err, listsync.ErrListUnresolved)
	assert.True(t, apollo.IsUnauthorized(err), "cause is kept: %v", err)
	assert.Equal(t, 0, h.srv.CountCalls("GET", "/v1/labels"))
}

func TestResolveList_EmptyName(t *testing.T) {
	h := newHarness(t)
	_, err := h.syncer(fastOptions()).ResolveList(testContext(t), "  ")
	require.ErrorIs(t, err, listsync.ErrListUnresolved)
	assert.Empty(t, h.srv.Calls())
}
