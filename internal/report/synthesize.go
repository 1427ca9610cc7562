// Package report merges grades back into the rubric layout and renders the styled
// workbook and HTML preview returned to the caller.
package report

import (
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/noah-isme/gema-grader/internal/rubric"
	"github.com/noah-isme/gema-grader/pkg/ai"
)

// Synthetic column names appended to the rubric columns.
const (
	ScoreColumn    = "AI Score"
	CommentsColumn = "AI Comments"
)

const (
	missingScore    = "N/A"
	missingComments = "No AI feedback."
	ungroupedLabel  = "Ungrouped"
	feedbackLabel   = "Overall Feedback"
	totalLabel      = "TOTAL MARKS OUT OF %d"
	subtotalSuffix  = " Total"
)

// RowKind classifies report rows for styling.
type RowKind string

const (
	RowDetail   RowKind = "detail"
	RowSummary  RowKind = "summary"
	RowSubtotal RowKind = "subtotal"
	RowFeedback RowKind = "feedback"
	RowTotal    RowKind = "total"
)

// Row is a rendering ready report row. Cells align with Report.Columns. Index is the
// stable rubric index for detail and summary rows.
type Row struct {
	Kind  RowKind
	Index *int
	Cells []string
}

// Report is the synthesized artifact.
type Report struct {
	Columns  []string
	Rows     []Row
	Workbook []byte
	HTML     string
}

// Grading is the grading result merged into the report. Grades is keyed by stable
// rubric index.
type Grading struct {
	Grades  map[int]ai.CriterionGrade
	Overall ai.OverallResult
}

// Options tune synthesis.
type Options struct {
	// IncludeSummaryRows keeps section header rows of the rubric in place. They carry
	// blank AI columns and never count towards totals.
	IncludeSummaryRows bool
}

// SynthesisError wraps a failure to build the report.
type SynthesisError struct {
	Stage string
	Err   error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("report synthesis failed at %s: %v", e.Stage, e.Err)
}

func (e *SynthesisError) Unwrap() error {
	return e.Err
}

type layout struct {
	columns     []string
	position    map[string]int
	criterion   string
	category    string
	hasCategory bool
	maxScore    string
	hasMax      bool
}

func newLayout(rb rubric.Rubric) layout {
	columns := append([]string{}, rb.Table.Columns...)
	for _, extra := range []string{ScoreColumn, CommentsColumn} {
		if !lo.Contains(columns, extra) {
			columns = append(columns, extra)
		}
	}
	l := layout{
		columns:   columns,
		position:  make(map[string]int, len(columns)),
		criterion: rb.Roles.Criterion(),
	}
	for i, column := range columns {
		l.position[column] = i
	}
	l.category, l.hasCategory = rb.Roles.Column(rubric.RoleCategory)
	l.maxScore, l.hasMax = rb.Roles.Column(rubric.RoleMaxScore)
	return l
}

func (l layout) blank() []string {
	return make([]string, len(l.columns))
}

func (l layout) set(cells []string, column, value string) {
	if idx, ok := l.position[column]; ok {
		cells[idx] = value
	}
}

// entry is a rubric row with its merged grade.
type entry struct {
	row      rubric.Row
	score    ai.Score
	graded   bool
	comments string
}

// Synthesize merges the grading result into the rubric and renders the workbook and
// HTML preview.
func Synthesize(rb rubric.Rubric, grading Grading, opts Options) (Report, error) {
	if rb.Roles.Criterion() == "" {
		return Report{}, &SynthesisError{Stage: "merge", Err: rubric.ErrSchemaInference}
	}

	l := newLayout(rb)

	entries := make([]entry, 0, len(rb.Table.Rows))
	for _, row := range rb.Table.Rows {
		if row.IsSummary {
			if opts.IncludeSummaryRows {
				entries = append(entries, entry{row: row})
			}
			continue
		}
		e := entry{row: row, comments: missingComments}
		if grade, ok := grading.Grades[row.Index]; ok {
			e.graded = true
			e.score = grade.Score
			if strings.TrimSpace(grade.Comments) != "" {
				e.comments = grade.Comments
			}
		}
		entries = append(entries, e)
	}

	var rows []Row
	if l.hasCategory {
		labelOf := func(e entry) string {
			if label := e.row.Value(l.category); label != "" {
				return label
			}
			return ungroupedLabel
		}
		groups := lo.GroupBy(entries, labelOf)
		for _, label := range lo.Uniq(lo.Map(entries, func(e entry, _ int) string { return labelOf(e) })) {
			members := groups[label]
			for _, e := range members {
				rows = append(rows, l.detailRow(e))
			}
			rows = append(rows, l.subtotalRow(label, members))
		}
	} else {
		for _, e := range entries {
			rows = append(rows, l.detailRow(e))
		}
	}

	achieved, maximum := l.sums(entries)

	feedback := l.blank()
	l.set(feedback, l.criterion, feedbackLabel)
	l.set(feedback, CommentsColumn, lo.Ternary(strings.TrimSpace(grading.Overall.Feedback) == "", missingScore, grading.Overall.Feedback))
	rows = append(rows, Row{Kind: RowFeedback, Cells: feedback})

	total := l.blank()
	l.set(total, l.criterion, fmt.Sprintf(totalLabel, int(maximum)))
	l.set(total, ScoreColumn, rubric.FormatScore(achieved))
	rows = append(rows, Row{Kind: RowTotal, Cells: total})

	report := Report{Columns: l.columns, Rows: rows}

	workbook, err := renderWorkbook(report, l)
	if err != nil {
		return Report{}, &SynthesisError{Stage: "workbook", Err: err}
	}
	report.Workbook = workbook
	report.HTML = renderHTML(report)

	return report, nil
}

func (l layout) detailRow(e entry) Row {
	cells := l.blank()
	for column, value := range e.row.Values {
		l.set(cells, column, value)
	}

	kind := RowDetail
	switch {
	case e.row.IsSummary:
		kind = RowSummary
		l.set(cells, ScoreColumn, "")
		l.set(cells, CommentsColumn, "")
	case e.graded && e.score.String() != "":
		l.set(cells, ScoreColumn, e.score.String())
		l.set(cells, CommentsColumn, e.comments)
	default:
		l.set(cells, ScoreColumn, missingScore)
		l.set(cells, CommentsColumn, e.comments)
	}

	index := e.row.Index
	return Row{Kind: kind, Index: &index, Cells: cells}
}

func (l layout) subtotalRow(label string, members []entry) Row {
	achieved, maximum := l.sums(members)
	cells := l.blank()
	l.set(cells, l.category, label+subtotalSuffix)
	if l.hasMax {
		l.set(cells, l.maxScore, rubric.FormatScore(maximum))
	}
	l.set(cells, ScoreColumn, rubric.FormatScore(achieved))
	return Row{Kind: RowSubtotal, Cells: cells}
}

// sums adds achieved and maximum scores of gradeable entries. Unparsable values count
// as zero.
func (l layout) sums(entries []entry) (achieved, maximum float64) {
	for _, e := range entries {
		if e.row.IsSummary {
			continue
		}
		if e.graded && e.score.Valid {
			achieved += e.score.Value
		}
		if l.hasMax {
			if value, ok := rubric.ParseScore(e.row.Value(l.maxScore)); ok {
				maximum += value
			}
		}
	}
	return achieved, maximum
}
