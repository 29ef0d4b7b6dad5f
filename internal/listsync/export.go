package listsync

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shpitdev/contactsync/pkg/apollo"
	"github.com/shpitdev/contactsync/pkg/pipeline/core"
	"github.com/shpitdev/contactsync/pkg/pipeline/schema"
)

// Export writes every contact on list to a CSV file at path and returns the row count.
//
// Columns are the sorted union of the fields seen; nested values are JSON-encoded.
// When the list is empty no file is written.
func (s *Syncer) Export(ctx context.Context, list ListHandle, path string) (int, error) {
	contacts, err := s.FetchAll(ctx, list)
	if err != nil {
		if apollo.IsUnauthorized(err) {
			return 0, &core.FatalError{Err: err}
		}
		return 0, err
	}
	if len(contacts) == 0 {
		s.log.Infow("nothing to export", "list", list.Name)
		return 0, nil
	}

	if err := NewCSVSink(path).Store(ctx, contacts); err != nil {
		return 0, err
	}
	s.log.Infow("export written", "list", list.Name, "path", path, "rows", len(contacts))
	return len(contacts), nil
}

// CSVSink writes contacts to one CSV file, replacing it atomically on each Store.
type CSVSink struct {
	path string
}

var _ core.OutputAdapter[apollo.Contact] = (*CSVSink)(nil)

func NewCSVSink(path string) *CSVSink {
	return &CSVSink{path: path}
}

// Store writes rows under a header of the sorted union of their fields. The file is
// world-readable once in place.
func (w *CSVSink) Store(ctx context.Context, rows []apollo.Contact) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	records := make([]map[string]any, len(rows))
	for i, c := range rows {
		records[i] = c
	}
	return writeCSVAtomic(w.path, schema.Infer(records).Names(), records)
}

func writeCSVAtomic(path string, columns []string, rows []map[string]any) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create export temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	w := csv.NewWriter(tmp)
	if err := w.Write(columns); err != nil {
		return fmt.Errorf("write export header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write(schema.Row(row, columns)); err != nil {
			return fmt.Errorf("write export row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flush export: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return fmt.Errorf("chmod export temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close export temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename export into place: %w", err)
	}
	return nil
}
