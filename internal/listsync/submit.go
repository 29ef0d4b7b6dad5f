package listsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shpitdev/contactsync/internal/contact"
	"github.com/shpitdev/contactsync/pkg/apollo"
	"github.com/shpitdev/contactsync/pkg/pipeline/core"
	"github.com/shpitdev/contactsync/pkg/pipeline/redact"
	"github.com/shpitdev/contactsync/pkg/pipeline/worker"
)

type submission struct {
	row     int
	contact contact.Contact
}

// Submit sends every record to the list, one at a time and in input order.
//
// Records without an email are skipped without a network call. Per-record failures
// are recorded and do not stop the run; a rejected API key does, and the outcomes
// gathered so far are returned with the error.
func (s *Syncer) Submit(ctx context.Context, list ListHandle, records []core.Record) ([]Outcome, Summary, error) {
	outcomes := make([]Outcome, len(records))
	pending := make([]submission, 0, len(records))
	for i, rec := range records {
		c, err := contact.Normalize(rec, s.opts.Synonyms)
		if err != nil {
			outcomes[i] = Outcome{Row: i, Status: StatusSkipped, Reason: err.Error()}
			s.log.Errorw("record skipped", "row", i+1, "error", err)
			continue
		}
		pending = append(pending, submission{row: i, contact: c})
	}

	s.log.Infow("submitting contacts", "list", list.Name, "list_id", list.ID, "count", len(pending))
	start := time.Now()

	hooks := worker.Hooks[submission, apollo.Contact]{
		OnRetry: func(in submission, attempt int, err error, wait time.Duration) {
			s.log.Warnw("submission retry scheduled",
				"email", in.contact.Email(),
				"attempt", attempt,
				"wait", wait,
				"error", redact.Secrets(err.Error()),
			)
		},
		OnResult: func(done int, res worker.Result[submission, apollo.Contact]) error {
			if done%s.opts.ProgressEvery == 0 && done < len(pending) {
				s.log.Infow("submission progress", "done", done, "total", len(pending))
			}
			return nil
		},
	}

	results, runErr := worker.ProcessSequential(ctx, pending, s.submitOne(list), hooks, worker.Options{
		MaxRetries:     s.opts.MaxAttempts - 1,
		RequestTimeout: s.opts.RequestTimeout,
		FailurePolicy:  worker.FailurePolicyPartialOutput,
		Pace:           s.pace,
	})

	for _, res := range results {
		o := Outcome{
			Row:      res.Input.row,
			Email:    res.Input.contact.Email(),
			Attempts: res.Attempts,
		}
		switch {
		case res.Err == nil:
			o.Status = StatusSubmitted
			o.ContactID = res.Output.ID()
		case worker.IsFatal(res.Err) || (errors.Is(res.Err, context.Canceled) && ctx.Err() != nil):
			// Not this record's fault; it stays unprocessed.
			continue
		default:
			o.Status = StatusFailed
			o.Reason = redact.Secrets(res.Err.Error())
			s.log.Warnw("contact failed", "email", o.Email, "attempts", o.Attempts, "error", o.Reason)
		}
		outcomes[o.Row] = o
	}

	done := make([]Outcome, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Status != "" {
			done = append(done, o)
		}
	}
	summary := tally(done)
	s.log.Infow("submission finished",
		"submitted", summary.Submitted,
		"failed", summary.Failed,
		"skipped", summary.Skipped,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	if runErr != nil {
		return done, summary, fmt.Errorf("submission aborted: %w", runErr)
	}
	return done, summary, nil
}

func (s *Syncer) submitOne(list ListHandle) core.ProcessFunc[submission, apollo.Contact] {
	return func(ctx context.Context, in submission) (apollo.Contact, error) {
		created, err := s.client.CreateContact(ctx, in.contact.Payload(list.Name))
		if err != nil {
			return nil, s.classifySubmitError(err)
		}
		return created, nil
	}
}

// classifySubmitError maps a create-contact failure onto the retry taxonomy.
func (s *Syncer) classifySubmitError(err error) error {
	switch {
	case apollo.IsUnauthorized(err):
		return &core.FatalError{Err: fmt.Errorf("api key rejected: %w", err)}
	case apollo.IsRateLimited(err):
		return &core.TransientError{Err: err, Cooldown: s.opts.RateLimitCooldown}
	case apollo.IsTransport(err):
		return &core.TransientError{Err: err, Cooldown: s.opts.TransportCooldown}
	default:
		return err
	}
}

// pace returns the pause after the done-th submission.
func (s *Syncer) pace(done int) time.Duration {
	if done%s.opts.ProgressEvery == 0 {
		return s.opts.BatchPause
	}
	return s.opts.CallPause
}
