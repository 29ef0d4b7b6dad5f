package local

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/shpitdev/contactsync/pkg/pipeline/core"
)

// EmailColumns are the accepted spellings of the identity column, in priority order.
var EmailColumns = []string{"email", "Email", "EMAIL"}

// ErrInputNotFound is returned when the input file does not exist.
var ErrInputNotFound = errors.New("input file not found")

// ErrInvalidEncoding is returned when the input is not UTF-8 text.
var ErrInvalidEncoding = errors.New("invalid UTF-8")

// Stats describes one pass over the input file.
type Stats struct {
	Header   []string
	Accepted int
	Skipped  int
}

// CSVSource reads contact records from a CSV file with a header row.
//
// Rows without a non-blank email under one of EmailColumns are skipped.
type CSVSource struct {
	path   string
	logger *zap.SugaredLogger
}

var _ core.InputAdapter[core.Record] = (*CSVSource)(nil)

func NewCSVSource(path string, logger *zap.SugaredLogger) *CSVSource {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &CSVSource{path: path, logger: logger}
}

// Load reads every accepted record.
func (s *CSVSource) Load(ctx context.Context) ([]core.Record, error) {
	records, _, err := s.LoadWithStats(ctx)
	return records, err
}

// LoadWithStats reads every accepted record and reports header and counts.
// An input where every row lacks an email yields an empty slice, not an error.
func (s *CSVSource) LoadWithStats(ctx context.Context) ([]core.Record, Stats, error) {
	var records []core.Record
	var stats Stats
	for rec, err := range s.scan(&stats) {
		if err != nil {
			return nil, stats, err
		}
		if err := ctx.Err(); err != nil {
			return nil, stats, err
		}
		records = append(records, rec)
	}
	s.logger.Infow("input loaded",
		"path", s.path,
		"columns", stats.Header,
		"accepted", stats.Accepted,
		"skipped", stats.Skipped,
	)
	return records, stats, nil
}

// Records returns a lazy sequence over accepted records. Each iteration re-opens the
// file, so the sequence can be ranged over more than once.
func (s *CSVSource) Records() iter.Seq2[core.Record, error] {
	return s.scan(&Stats{})
}

func (s *CSVSource) scan(stats *Stats) iter.Seq2[core.Record, error] {
	return func(yield func(core.Record, error) bool) {
		*stats = Stats{}

		f, err := os.Open(s.path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				yield(nil, fmt.Errorf("%w: %s", ErrInputNotFound, s.path))
				return
			}
			yield(nil, fmt.Errorf("open input: %w", err))
			return
		}
		defer func() {
			_ = f.Close()
		}()

		cr := csv.NewReader(f)
		cr.FieldsPerRecord = -1

		header, err := cr.Read()
		if err != nil {
			yield(nil, fmt.Errorf("read header: %w", err))
			return
		}
		if !validUTF8(header) {
			yield(nil, fmt.Errorf("read header: %w", ErrInvalidEncoding))
			return
		}
		header = normalizeHeader(header)
		stats.Header = header

		row := 1
		for {
			cells, err := cr.Read()
			if err == io.EOF {
				return
			}
			row++
			if err != nil {
				yield(nil, fmt.Errorf("read row %d: %w", row, err))
				return
			}
			if !validUTF8(cells) {
				yield(nil, fmt.Errorf("read row %d: %w", row, ErrInvalidEncoding))
				return
			}

			rec := make(core.Record, len(header))
			for i, name := range header {
				if i < len(cells) {
					rec[name] = cells[i]
				} else {
					rec[name] = ""
				}
			}
			if Email(rec) == "" {
				stats.Skipped++
				s.logger.Warnw("skipping row without email", "row", row)
				continue
			}
			stats.Accepted++
			if !yield(rec, nil) {
				return
			}
		}
	}
}

// Email returns the trimmed identity value of rec, or "" if none is usable.
func Email(rec core.Record) string {
	for _, col := range EmailColumns {
		if v := strings.TrimSpace(rec[col]); v != "" {
			return v
		}
	}
	return ""
}

func validUTF8(cells []string) bool {
	for _, c := range cells {
		if !utf8.ValidString(c) {
			return false
		}
	}
	return true
}

func normalizeHeader(header []string) []string {
	out := make([]string, len(header))
	for i, name := range header {
		if i == 0 {
			name = strings.TrimPrefix(name, "\ufeff")
		}
		out[i] = strings.TrimSpace(name)
	}
	return out
}
