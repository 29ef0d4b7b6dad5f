package listsync_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/shpitdev/contactsync/internal/listsync"
	"github.com/shpitdev/contactsync/pkg/apollo"
	"github.com/shpitdev/contactsync/pkg/mockapollo"
)

const testKey = "test-key"

// fastOptions keeps production semantics with millisecond pacing.
func fastOptions() listsync.Options {
	o := listsync.DefaultOptions()
	o.RequestTimeout = 5 * time.Second
	o.RateLimitCooldown = time.Millisecond
	o.TransportCooldown = time.Millisecond
	o.CallPause = 0
	o.BatchPause = 0
	o.DeletePause = 0
	o.WaitTick = 5 * time.Millisecond
	return o
}

type harness struct {
	srv    *mockapollo.Server
	client *apollo.Client
	logger *zap.SugaredLogger
	logs   *observer.ObservedLogs
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	srv := mockapollo.New()
	srv.RequireAPIKey(testKey)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	client, err := apollo.NewClient(apollo.Config{BaseURL: ts.URL + "/v1", APIKey: testKey})
	require.NoError(t, err)

	zc, logs := observer.New(zap.DebugLevel)
	return &harness{srv: srv, client: client, logger: zap.New(zc).Sugar(), logs: logs}
}

func (h *harness) syncer(opts listsync.Options) *listsync.Syncer {
	return listsync.New(h.client, opts, h.logger)
}

func (h *harness) syncerWith(client listsync.Client, opts listsync.Options) *listsync.Syncer {
	return listsync.New(client, opts, h.logger)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// recordingClient captures create-contact payloads before forwarding them.
type recordingClient struct {
	listsync.Client
	payloads []map[string]any
}

func (r *recordingClient) CreateContact(ctx context.Context, payload map[string]any) (apollo.Contact, error) {
	r.payloads = append(r.payloads, payload)
	return r.Client.CreateContact(ctx, payload)
}
