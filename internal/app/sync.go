package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/shpitdev/contactsync/internal/listsync"
	"github.com/shpitdev/contactsync/internal/logging"
	"github.com/shpitdev/contactsync/pkg/pipeline/io/local"
	"github.com/shpitdev/contactsync/pkg/pipeline/redact"
)

// ErrNoValidRecords is returned when the input holds no record with an email.
var ErrNoValidRecords = errors.New("input has no records with an email")

// Runner wires the list phases into the upload, cleanup and export runs.
type Runner struct {
	Client  listsync.Client
	Options listsync.Options
	Logger  *zap.SugaredLogger
}

// UploadParams selects what an upload run does after submission.
type UploadParams struct {
	ListName  string
	InputPath string

	// Cleanup reconciles the list after waiting Wait.
	Cleanup bool
	Wait    time.Duration

	// ExportPath, when set, exports the list as the last step.
	ExportPath string
}

type run struct {
	log    *zap.SugaredLogger
	syncer *listsync.Syncer
	start  time.Time
}

func (r Runner) begin(kind string) run {
	log := logging.OrNop(r.Logger).With("run", uuid.NewString())
	log.Infow(kind+" run start",
		"max_attempts", r.Options.MaxAttempts,
		"timeout", r.Options.RequestTimeout,
	)
	return run{
		log:    log,
		syncer: listsync.New(r.Client, r.Options, log),
		start:  time.Now(),
	}
}

func (rn run) finish(sum listsync.Summary, err error) {
	if err != nil {
		rn.log.Errorw("run failed", "error", redact.Secrets(err.Error()))
	}
	rn.log.Infof("run complete %s duration=%s", sum, time.Since(rn.start).Round(time.Millisecond))
}

// RunUpload loads the input CSV, resolves the list and submits every record; then
// optionally reconciles and exports.
func (r Runner) RunUpload(ctx context.Context, p UploadParams) (sum listsync.Summary, err error) {
	rn := r.begin("upload")
	defer func() { rn.finish(sum, err) }()

	records, stats, err := local.NewCSVSource(p.InputPath, rn.log).LoadWithStats(ctx)
	if err != nil {
		return sum, err
	}
	if len(records) == 0 {
		sum.Skipped = stats.Skipped
		return sum, fmt.Errorf("%s: %w", p.InputPath, ErrNoValidRecords)
	}
	// Rows dropped at load time count as skipped alongside the ones Submit rejects.
	sum.Skipped = stats.Skipped

	list, err := rn.syncer.ResolveList(ctx, p.ListName)
	if err != nil {
		return sum, err
	}

	_, submitted, err := rn.syncer.Submit(ctx, list, records)
	sum.Add(submitted)
	if err != nil {
		return sum, err
	}

	if p.Cleanup {
		reconciled, err := rn.syncer.Reconcile(ctx, list, p.Wait)
		sum.Add(reconciled)
		if err != nil {
			return sum, err
		}
	}
	if strings.TrimSpace(p.ExportPath) != "" {
		n, err := rn.syncer.Export(ctx, list, p.ExportPath)
		sum.Exported = n
		if err != nil {
			return sum, err
		}
	}
	return sum, nil
}

// RunCleanup resolves an existing list, waits, and reconciles it. An exportPath
// exports the survivors afterwards.
func (r Runner) RunCleanup(ctx context.Context, listName string, wait time.Duration, exportPath string) (sum listsync.Summary, err error) {
	rn := r.begin("cleanup")
	defer func() { rn.finish(sum, err) }()

	list, err := rn.syncer.ResolveList(ctx, listName)
	if err != nil {
		return sum, err
	}
	sum, err = rn.syncer.Reconcile(ctx, list, wait)
	if err != nil {
		return sum, err
	}
	if strings.TrimSpace(exportPath) != "" {
		sum.Exported, err = rn.syncer.Export(ctx, list, exportPath)
	}
	return sum, err
}

// RunExport writes every contact on the list to outputPath.
func (r Runner) RunExport(ctx context.Context, listName, outputPath string) (sum listsync.Summary, err error) {
	rn := r.begin("export")
	defer func() { rn.finish(sum, err) }()

	list, err := rn.syncer.ResolveList(ctx, listName)
	if err != nil {
		return sum, err
	}
	sum.Exported, err = rn.syncer.Export(ctx, list, outputPath)
	return sum, err
}
