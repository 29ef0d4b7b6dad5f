package listsync

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shpitdev/contactsync/pkg/apollo"
	"github.com/shpitdev/contactsync/pkg/pipeline/core"
	"github.com/shpitdev/contactsync/pkg/pipeline/redact"
	"github.com/shpitdev/contactsync/pkg/pipeline/worker"
)

// KeepPredicate reports whether a fetched contact survives reconciliation.
type KeepPredicate func(apollo.Contact) bool

// DefaultKeepFields are the fields whose presence marks a contact as enriched.
var DefaultKeepFields = []string{"first_name", "last_name", "organization_name"}

// DefaultKeep keeps contacts with a name or an organization.
func DefaultKeep() KeepPredicate {
	return AnyFieldPresent(DefaultKeepFields...)
}

// AnyFieldPresent keeps contacts where at least one of fields is a non-blank scalar.
func AnyFieldPresent(fields ...string) KeepPredicate {
	fields = append([]string(nil), fields...)
	return func(c apollo.Contact) bool {
		for _, f := range fields {
			if c.String(f) != "" {
				return true
			}
		}
		return false
	}
}

// Partition splits contacts into those keep accepts and those it rejects, preserving order.
func Partition(contacts []apollo.Contact, keep KeepPredicate) (kept, rejected []apollo.Contact) {
	for _, c := range contacts {
		if keep(c) {
			kept = append(kept, c)
		} else {
			rejected = append(rejected, c)
		}
	}
	return kept, rejected
}

// Wait sleeps for delay in WaitTick steps, logging the time left at each step.
func (s *Syncer) Wait(ctx context.Context, delay time.Duration) error {
	for remaining := delay; remaining > 0; {
		s.log.Infow("waiting for enrichment", "remaining", remaining)
		step := min(s.opts.WaitTick, remaining)
		if err := worker.Sleep(ctx, step); err != nil {
			return err
		}
		remaining -= step
	}
	return ctx.Err()
}

// FetchAll returns every contact tagged with list, across all pages.
func (s *Syncer) FetchAll(ctx context.Context, list ListHandle) ([]apollo.Contact, error) {
	var out []apollo.Contact
	for page := 1; ; page++ {
		callCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
		res, err := s.client.SearchContacts(callCtx, apollo.SearchRequest{
			LabelIDs: []string{list.ID},
			Page:     page,
			PerPage:  s.opts.PageSize,
		})
		cancel()
		if err != nil {
			return out, fmt.Errorf("fetch %q page %d: %w", list.Name, page, err)
		}
		out = append(out, res.Contacts...)
		s.log.Debugw("fetched page", "list", list.Name, "page", page, "total_pages", res.Pagination.TotalPages, "contacts", len(res.Contacts))
		if page >= res.Pagination.TotalPages || len(res.Contacts) == 0 {
			return out, nil
		}
	}
}

// Reconcile waits delay, then deletes every contact on list the keep predicate rejects.
//
// Delete failures are logged and counted; a rejected API key aborts with a
// *core.FatalError. The returned summary carries Kept, Deleted and DeleteFailed.
func (s *Syncer) Reconcile(ctx context.Context, list ListHandle, delay time.Duration) (Summary, error) {
	var sum Summary
	if err := s.Wait(ctx, delay); err != nil {
		return sum, err
	}

	contacts, err := s.FetchAll(ctx, list)
	if err != nil {
		if apollo.IsUnauthorized(err) {
			return sum, &core.FatalError{Err: err}
		}
		return sum, err
	}
	kept, rejected := Partition(contacts, s.opts.Keep)
	sum.Kept = len(kept)
	s.log.Infow("reconciling list", "list", list.Name, "fetched", len(contacts), "kept", len(kept), "to_delete", len(rejected))

	for i, c := range rejected {
		id := strings.TrimSpace(c.ID())
		if id == "" {
			sum.DeleteFailed++
			s.log.Warnw("cannot delete contact without id", "email", c.String("email"))
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, s.opts.RequestTimeout)
		err := s.client.DeleteContact(callCtx, id)
		cancel()
		switch {
		case err == nil:
			sum.Deleted++
			s.log.Debugw("contact deleted", "contact_id", id, "email", c.String("email"))
		case apollo.IsUnauthorized(err):
			return sum, &core.FatalError{Err: fmt.Errorf("api key rejected: %w", err)}
		case ctx.Err() != nil:
			return sum, ctx.Err()
		default:
			sum.DeleteFailed++
			s.log.Warnw("delete failed", "contact_id", id, "error", redact.Secrets(err.Error()))
		}

		if i < len(rejected)-1 {
			if err := worker.Sleep(ctx, s.opts.DeletePause); err != nil {
				return sum, err
			}
		}
	}

	s.log.Infow("reconcile finished", "list", list.Name, "deleted", sum.Deleted, "delete_failed", sum.DeleteFailed, "kept", sum.Kept)
	return sum, nil
}
