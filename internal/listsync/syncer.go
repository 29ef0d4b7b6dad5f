package listsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shpitdev/contactsync/internal/contact"
	"github.com/shpitdev/contactsync/internal/logging"
	"github.com/shpitdev/contactsync/pkg/apollo"
)

// ErrListUnresolved is returned when a list can be neither created nor found by name.
var ErrListUnresolved = errors.New("list could not be resolved")

// Client is the subset of the directory service API used by a Syncer.
// *apollo.Client implements it.
type Client interface {
	CreateLabel(ctx context.Context, name string) (apollo.Label, error)
	ListLabels(ctx context.Context, name string) ([]apollo.Label, error)
	CreateContact(ctx context.Context, payload map[string]any) (apollo.Contact, error)
	SearchContacts(ctx context.Context, req apollo.SearchRequest) (apollo.SearchPage, error)
	DeleteContact(ctx context.Context, id string) error
}

var _ Client = (*apollo.Client)(nil)

// Options tunes retries and pacing. Zero pauses disable the corresponding sleep.
type Options struct {
	// MaxAttempts is the total number of submission attempts per contact.
	MaxAttempts int
	// RequestTimeout bounds each remote call.
	RequestTimeout time.Duration

	RateLimitCooldown time.Duration
	TransportCooldown time.Duration

	CallPause     time.Duration
	BatchPause    time.Duration
	ProgressEvery int

	DeletePause time.Duration
	WaitTick    time.Duration
	PageSize    int

	Synonyms contact.Synonyms
	Keep     KeepPredicate
}

// DefaultOptions returns the production pacing.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:       3,
		RequestTimeout:    30 * time.Second,
		RateLimitCooldown: 60 * time.Second,
		TransportCooldown: 5 * time.Second,
		CallPause:         1200 * time.Millisecond,
		BatchPause:        2 * time.Second,
		ProgressEvery:     10,
		DeletePause:       500 * time.Millisecond,
		WaitTick:          30 * time.Second,
		PageSize:          100,
		Synonyms:          contact.DefaultSynonyms(),
		Keep:              DefaultKeep(),
	}
}

func (o Options) normalize() Options {
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 1
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 30 * time.Second
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = 10
	}
	if o.WaitTick <= 0 {
		o.WaitTick = 30 * time.Second
	}
	if o.PageSize <= 0 || o.PageSize > 100 {
		o.PageSize = 100
	}
	if o.Synonyms == nil {
		o.Synonyms = contact.DefaultSynonyms()
	}
	if o.Keep == nil {
		o.Keep = DefaultKeep()
	}
	return o
}

// ListHandle identifies the remote list for the rest of a run.
type ListHandle struct {
	ID   string
	Name string
}

// Syncer runs the list phases against one directory service account.
type Syncer struct {
	client Client
	opts   Options
	log    *zap.SugaredLogger
}

// New returns a Syncer. A nil logger discards output.
func New(client Client, opts Options, logger *zap.SugaredLogger) *Syncer {
	return &Syncer{
		client: client,
		opts:   opts.normalize(),
		log:    logging.OrNop(logger),
	}
}

// ResolveList creates the list named name, or finds it when it already exists.
//
// Resolving the same name repeatedly yields the same identifier.
func (s *Syncer) ResolveList(ctx context.Context, name string) (ListHandle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ListHandle{}, fmt.Errorf("%w: list name is empty", ErrListUnresolved)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
	label, err := s.client.CreateLabel(callCtx, name)
	cancel()
	if err == nil {
		s.log.Infow("list created", "list", name, "list_id", label.ID)
		return ListHandle{ID: label.ID, Name: name}, nil
	}
	if !apollo.IsConflict(err) {
		return ListHandle{}, fmt.Errorf("%w: create %q: %w", ErrListUnresolved, name, err)
	}

	s.log.Infow("list already exists; looking it up", "list", name)
	callCtx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
	labels, err := s.client.ListLabels(callCtx, name)
	cancel()
	if err != nil {
		return ListHandle{}, fmt.Errorf("%w: lookup %q: %w", ErrListUnresolved, name, err)
	}
	for _, l := range labels {
		if l.Name == name && strings.TrimSpace(l.ID) != "" {
			s.log.Infow("list found", "list", name, "list_id", l.ID)
			return ListHandle{ID: l.ID, Name: name}, nil
		}
	}
	return ListHandle{}, fmt.Errorf("%w: %q exists but no exact match was listed", ErrListUnresolved, name)
}
