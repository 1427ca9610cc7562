package rubric

import (
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
)

const headerScanRows = 10

var roleKeywords = map[Role][]string{
	RoleCriterion: {
		"evaluation criteria", "criterion", "item",
		"code snippet to be checked / expected result", "description",
	},
	RoleParameters: {
		"parameters", "webpage / class affected /test scenario",
	},
	RoleCategory: {
		"category", "group", "module", "skill cluster", "business requirement",
	},
	RoleMaxScore: {
		"score", "max score", "points", "weightage", "points possible", "max",
	},
}

// Inferrer turns an arbitrary rubric file into a Rubric.
type Inferrer struct {
	logger zerolog.Logger
}

// NewInferrer constructs a rubric inferrer.
func NewInferrer(logger zerolog.Logger) *Inferrer {
	return &Inferrer{logger: logger.With().Str("component", "rubric_inferrer").Logger()}
}

// Infer loads, interprets and fills the rubric.
func (i *Inferrer) Infer(name string, r io.Reader) (Rubric, error) {
	raw, err := LoadRaw(name, r)
	if err != nil {
		return Rubric{}, err
	}

	header, found := DetectHeader(raw)
	if found {
		i.logger.Debug().Int("header_row", header).Msg("detected rubric header row")
	} else {
		i.logger.Warn().Msg("no strong header keywords found, assuming header is the first row")
	}

	table := BuildTable(raw, header)
	roles, err := AssignRoles(table)
	if err != nil {
		return Rubric{}, err
	}

	filled := ForwardFill(table, roles)
	i.logger.Info().
		Interface("roles", roles.AsMap()).
		Int("rows", len(filled.Rows)).
		Msg("rubric schema inferred")

	return Rubric{Roles: roles, Table: filled}, nil
}

// DetectHeader returns the first of the leading rows that mentions at least two
// distinct rubric keywords. It falls back to row 0.
func DetectHeader(raw RawTable) (int, bool) {
	vocabulary := headerVocabulary()
	for idx, row := range raw {
		if idx >= headerScanRows {
			break
		}
		parts := make([]string, 0, len(row))
		for _, cell := range row {
			if trimmed := strings.TrimSpace(cell); trimmed != "" {
				parts = append(parts, strings.ToLower(trimmed))
			}
		}
		joined := strings.Join(parts, " ")

		hits := 0
		for _, keyword := range vocabulary {
			if strings.Contains(joined, keyword) {
				hits++
			}
		}
		if hits >= 2 {
			return idx, true
		}
	}
	return 0, false
}

func headerVocabulary() []string {
	seen := map[string]struct{}{}
	var vocabulary []string
	for _, role := range []Role{RoleCategory, RoleParameters, RoleCriterion, RoleMaxScore} {
		for _, keyword := range roleKeywords[role] {
			if _, ok := seen[keyword]; ok {
				continue
			}
			seen[keyword] = struct{}{}
			vocabulary = append(vocabulary, keyword)
		}
	}
	return vocabulary
}

// BuildTable reinterprets the raw grid using the given header row. Blank rows and
// columns without any data are dropped; stable indices are assigned here.
func BuildTable(raw RawTable, header int) Table {
	if header >= len(raw) {
		return Table{HeaderRow: header}
	}

	width := 0
	for _, row := range raw[header:] {
		if len(row) > width {
			width = len(row)
		}
	}

	names := uniqueColumnNames(raw[header], width)

	var data [][]string
	for _, row := range raw[header+1:] {
		cells := make([]string, width)
		blank := true
		for idx := 0; idx < width && idx < len(row); idx++ {
			cells[idx] = row[idx]
			if strings.TrimSpace(row[idx]) != "" {
				blank = false
			}
		}
		if !blank {
			data = append(data, cells)
		}
	}

	keep := make([]int, 0, width)
	for col := 0; col < width; col++ {
		for _, cells := range data {
			if strings.TrimSpace(cells[col]) != "" {
				keep = append(keep, col)
				break
			}
		}
	}

	table := Table{HeaderRow: header, Columns: make([]string, 0, len(keep))}
	for _, col := range keep {
		table.Columns = append(table.Columns, names[col])
	}
	for idx, cells := range data {
		values := make(map[string]string, len(keep))
		for _, col := range keep {
			values[names[col]] = strings.TrimSpace(cells[col])
		}
		table.Rows = append(table.Rows, Row{Index: idx, Values: values})
	}
	return table
}

func uniqueColumnNames(header []string, width int) []string {
	names := make([]string, width)
	counts := map[string]int{}
	for idx := 0; idx < width; idx++ {
		name := ""
		if idx < len(header) {
			name = strings.TrimSpace(header[idx])
		}
		if name == "" {
			name = fmt.Sprintf("Unnamed: %d", idx)
		}
		if n, ok := counts[name]; ok {
			counts[name] = n + 1
			name = fmt.Sprintf("%s.%d", name, n+1)
		} else {
			counts[name] = 0
		}
		names[idx] = name
	}
	return names
}

// AssignRoles binds rubric roles to columns by keyword, in priority order.
func AssignRoles(table Table) (ColumnRoleMap, error) {
	assigned := map[Role]string{}
	used := map[string]bool{}

	for _, role := range rolePriority {
		for _, column := range table.Columns {
			if used[column] || !matchesRole(column, role) {
				continue
			}
			if role == RoleMaxScore && numericShare(table, column) < 0.5 {
				continue
			}
			assigned[role] = column
			used[column] = true
			break
		}
	}

	if _, ok := assigned[RoleCriterion]; !ok {
		for _, column := range table.Columns {
			if used[column] || whollyNumeric(table, column) {
				continue
			}
			assigned[RoleCriterion] = column
			used[column] = true
			break
		}
	}

	if _, ok := assigned[RoleCriterion]; !ok {
		return ColumnRoleMap{}, &SchemaError{Columns: append([]string(nil), table.Columns...)}
	}
	return NewColumnRoleMap(assigned)
}

func matchesRole(column string, role Role) bool {
	lower := strings.ToLower(column)
	for _, keyword := range roleKeywords[role] {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

func numericShare(table Table, column string) float64 {
	if len(table.Rows) == 0 {
		return 0
	}
	numeric := 0
	for _, row := range table.Rows {
		if isNumeric(row.Values[column]) {
			numeric++
		}
	}
	return float64(numeric) / float64(len(table.Rows))
}

func whollyNumeric(table Table, column string) bool {
	filled := 0
	for _, row := range table.Rows {
		value := row.Value(column)
		if value == "" {
			continue
		}
		if !isNumeric(value) {
			return false
		}
		filled++
	}
	return filled > 0
}

// ForwardFill returns a copy of the table with grouping columns filled downwards, max
// scores filled within each group, and summary flags recomputed.
func ForwardFill(table Table, roles ColumnRoleMap) Table {
	out := Table{
		HeaderRow: table.HeaderRow,
		Columns:   append([]string(nil), table.Columns...),
		Rows:      make([]Row, len(table.Rows)),
	}
	for idx, row := range table.Rows {
		out.Rows[idx] = row.clone()
	}

	var grouping []string
	for _, role := range []Role{RoleCategory, RoleParameters} {
		if column, ok := roles.Column(role); ok {
			grouping = append(grouping, column)
		}
	}

	for _, column := range grouping {
		last := ""
		for idx := range out.Rows {
			value := out.Rows[idx].Value(column)
			if value == "" {
				out.Rows[idx].Values[column] = last
				continue
			}
			last = value
		}
	}

	if maxCol, ok := roles.Column(RoleMaxScore); ok && len(grouping) > 0 {
		lastByGroup := map[string]string{}
		for idx := range out.Rows {
			key := groupKey(out.Rows[idx], grouping)
			value := out.Rows[idx].Value(maxCol)
			if value == "" {
				if inherited, seen := lastByGroup[key]; seen {
					out.Rows[idx].Values[maxCol] = inherited
				}
				continue
			}
			lastByGroup[key] = value
		}
	}

	criterionCol := roles.Criterion()
	for idx := range out.Rows {
		out.Rows[idx].IsSummary = out.Rows[idx].Value(criterionCol) == ""
	}
	return out
}

func groupKey(row Row, columns []string) string {
	parts := make([]string, len(columns))
	for idx, column := range columns {
		parts[idx] = row.Value(column)
	}
	return strings.Join(parts, "\x1f")
}
