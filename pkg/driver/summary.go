package driver

import (
	"fmt"
	"strings"
)

// field is one column of a Summary report: a header plus its fixed
// display width, matching the teacher-adjacent original's column/rule
// rendering rather than pulling in a table-formatting dependency for one
// report.
type field struct {
	header string
	width  int
}

var summaryFields = []field{
	{"Path", 48},
	{"Decision", 17},
	{"Digest", 10},
}

// Row is one line of a backup/restore run's tabular summary.
type Row struct {
	Path     string
	Decision string
	Digest   string
}

// Summary is the end-of-run report spec.md §7 calls for ("logs a tabular
// summary").
type Summary struct {
	StorageDef  string
	BackupName  string
	Rows        []Row
	Uploaded    int
	Skipped     int
	Duplicated  int
	Verified    int
	BitrotWarns int
	Failed      int
	DryRun      bool
}

// Add records one file's outcome.
func (s *Summary) Add(row Row) {
	s.Rows = append(s.Rows, row)
}

// ExitCode follows spec.md §7's exit-status contract: 0 on a clean run,
// non-zero on anomalies, a distinct value for a clean dry run.
const (
	ExitClean        = 0
	ExitAnomalies    = 1
	ExitDryRunClean  = 2
)

// ExitCode computes the run's exit status.
func (s *Summary) ExitCode() int {
	if s.Failed > 0 || s.BitrotWarns > 0 {
		return ExitAnomalies
	}
	if s.DryRun {
		return ExitDryRunClean
	}
	return ExitClean
}

// String renders the header, underline, and one line per row, truncating
// or padding each field to its fixed width.
func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "storage definition: %s  backup: %s\n", s.StorageDef, s.BackupName)

	headers := make([]string, len(summaryFields))
	underline := make([]string, len(summaryFields))
	for i, f := range summaryFields {
		headers[i] = f.header
		underline[i] = strings.Repeat("-", f.width)
	}
	b.WriteString(renderCells(headers))
	b.WriteString("\n")
	b.WriteString(renderCells(underline))
	b.WriteString("\n")

	for _, row := range s.Rows {
		b.WriteString(renderCells([]string{row.Path, row.Decision, row.Digest}))
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "\nuploaded=%d skipped=%d duplicated=%d verified=%d bitrot-warnings=%d failed=%d\n",
		s.Uploaded, s.Skipped, s.Duplicated, s.Verified, s.BitrotWarns, s.Failed)
	return b.String()
}

func renderCells(cells []string) string {
	padded := make([]string, len(cells))
	for i, c := range cells {
		width := summaryFields[i].width
		if len(c) > width {
			c = c[:width]
		}
		padded[i] = fmt.Sprintf("%-*s", width, c)
	}
	return strings.Join(padded, " ")
}
