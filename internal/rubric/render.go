package rubric

import (
	"strings"

	"github.com/olekukonko/tablewriter"
)

// Markdown renders the gradeable rows as a markdown table for the grader's context.
func (r Rubric) Markdown() string {
	builder := &strings.Builder{}
	table := tablewriter.NewWriter(builder)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader(r.Table.Columns)
	table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
	table.SetCenterSeparator("|")

	for _, row := range r.Gradeable() {
		cells := make([]string, len(r.Table.Columns))
		for idx, column := range r.Table.Columns {
			cells[idx] = strings.ReplaceAll(row.Value(column), "\n", " ")
		}
		table.Append(cells)
	}
	table.Render()
	return builder.String()
}
