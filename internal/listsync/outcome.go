package listsync

import "fmt"

// Status is the terminal state of one input record.
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Outcome records what happened to one input record.
type Outcome struct {
	// Row is the 0-based position of the record in the input.
	Row       int
	Email     string
	Status    Status
	ContactID string
	Reason    string
	Attempts  int
}

// Summary counts outcomes across the phases of a run.
type Summary struct {
	Submitted int
	Failed    int
	Skipped   int

	Kept         int
	Deleted      int
	DeleteFailed int

	Exported int
}

// Add folds o into s.
func (s *Summary) Add(o Summary) {
	s.Submitted += o.Submitted
	s.Failed += o.Failed
	s.Skipped += o.Skipped
	s.Kept += o.Kept
	s.Deleted += o.Deleted
	s.DeleteFailed += o.DeleteFailed
	s.Exported += o.Exported
}

func (s Summary) String() string {
	return fmt.Sprintf("submitted=%d failed=%d skipped=%d deleted=%d exported=%d",
		s.Submitted, s.Failed, s.Skipped, s.Deleted, s.Exported)
}

func tally(outcomes []Outcome) Summary {
	var s Summary
	for _, o := range outcomes {
		switch o.Status {
		case StatusSubmitted:
			s.Submitted++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		}
	}
	return s
}
