package report

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

const tableClass = "table table-striped table-bordered table-hover responsive-table"

// previewPolicy admits the table markup renderHTML writes and nothing else. Cell text
// is escaped before it reaches the policy, so code like List<String> survives.
var previewPolicy = func() *bluemonday.Policy {
	policy := bluemonday.NewPolicy()
	policy.AllowElements("table", "thead", "tbody", "tr", "th", "td", "br")
	policy.AllowAttrs("class").OnElements("table", "tr")
	return policy
}()

var rowClasses = map[RowKind]string{
	RowSubtotal: "subtotal-row",
	RowTotal:    "total-row",
	RowFeedback: "feedback-row",
	RowSummary:  "summary-row",
}

func renderHTML(report Report) string {
	builder := strings.Builder{}
	builder.WriteString(`<table class="` + tableClass + `">`)
	builder.WriteString("<thead><tr>")
	for _, column := range report.Columns {
		builder.WriteString("<th>")
		builder.WriteString(escapeCell(column))
		builder.WriteString("</th>")
	}
	builder.WriteString("</tr></thead><tbody>")

	for _, row := range report.Rows {
		if class, ok := rowClasses[row.Kind]; ok {
			builder.WriteString(`<tr class="` + class + `">`)
		} else {
			builder.WriteString("<tr>")
		}
		for _, cell := range row.Cells {
			builder.WriteString("<td>")
			builder.WriteString(escapeCell(cell))
			builder.WriteString("</td>")
		}
		builder.WriteString("</tr>")
	}

	builder.WriteString("</tbody></table>")
	return previewPolicy.Sanitize(builder.String())
}

// escapeCell renders cell text literally. Newlines become line breaks.
func escapeCell(value string) string {
	return strings.ReplaceAll(html.EscapeString(value), "\n", "<br>")
}
