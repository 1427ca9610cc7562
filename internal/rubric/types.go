package rubric

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Role identifies the semantic purpose of a rubric column.
type Role string

const (
	RoleCriterion  Role = "criterion"
	RoleCategory   Role = "category"
	RoleParameters Role = "parameters"
	RoleMaxScore   Role = "max_score"
)

// rolePriority is the order in which roles claim columns. Max score goes first so its
// numeric-density check runs before a looser keyword of another role can take the column.
var rolePriority = []Role{RoleMaxScore, RoleCategory, RoleParameters, RoleCriterion}

// ErrSchemaInference indicates no criterion column could be resolved.
var ErrSchemaInference = errors.New("rubric schema inference failed")

// ErrUnsupportedRubric indicates the rubric file format is not readable.
var ErrUnsupportedRubric = errors.New("unsupported rubric format")

// SchemaError carries the columns that were considered when inference failed.
type SchemaError struct {
	Columns []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("no criterion column could be identified among [%s]", strings.Join(e.Columns, ", "))
}

func (e *SchemaError) Unwrap() error {
	return ErrSchemaInference
}

// RawTable is the untouched cell grid of a rubric file; no header is assumed.
type RawTable [][]string

// ColumnRoleMap binds roles to column names. It is immutable once built.
type ColumnRoleMap struct {
	columns map[Role]string
}

// NewColumnRoleMap validates the assignments and returns an immutable map.
func NewColumnRoleMap(assignments map[Role]string) (ColumnRoleMap, error) {
	seen := make(map[string]Role, len(assignments))
	columns := make(map[Role]string, len(assignments))
	for role, column := range assignments {
		if column == "" {
			continue
		}
		if other, ok := seen[column]; ok {
			return ColumnRoleMap{}, fmt.Errorf("column %q assigned to both %s and %s", column, other, role)
		}
		seen[column] = role
		columns[role] = column
	}
	if _, ok := columns[RoleCriterion]; !ok {
		return ColumnRoleMap{}, ErrSchemaInference
	}
	return ColumnRoleMap{columns: columns}, nil
}

// Column returns the column bound to the role.
func (m ColumnRoleMap) Column(role Role) (string, bool) {
	column, ok := m.columns[role]
	return column, ok
}

// Criterion returns the mandatory criterion column.
func (m ColumnRoleMap) Criterion() string {
	return m.columns[RoleCriterion]
}

// Roles lists the resolved roles in priority order.
func (m ColumnRoleMap) Roles() []Role {
	roles := make([]Role, 0, len(m.columns))
	for _, role := range rolePriority {
		if _, ok := m.columns[role]; ok {
			roles = append(roles, role)
		}
	}
	return roles
}

// AsMap returns a copy of the assignments, keyed by role name.
func (m ColumnRoleMap) AsMap() map[string]string {
	out := make(map[string]string, len(m.columns))
	for role, column := range m.columns {
		out[string(role)] = column
	}
	return out
}

// Row is a data row of the rubric. Index is assigned when the table is built and is the
// only key used to reattach grades.
type Row struct {
	Index     int
	Values    map[string]string
	IsSummary bool
}

// Value returns the trimmed value of a column.
func (r Row) Value(column string) string {
	return strings.TrimSpace(r.Values[column])
}

func (r Row) clone() Row {
	values := make(map[string]string, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	return Row{Index: r.Index, Values: values, IsSummary: r.IsSummary}
}

// Table is a rubric reinterpreted with a detected header.
type Table struct {
	HeaderRow int
	Columns   []string
	Rows      []Row
}

// Rubric pairs the inferred roles with the table they describe.
type Rubric struct {
	Roles ColumnRoleMap
	Table Table
}

// Gradeable returns the rows that carry a criterion.
func (r Rubric) Gradeable() []Row {
	rows := make([]Row, 0, len(r.Table.Rows))
	for _, row := range r.Table.Rows {
		if !row.IsSummary {
			rows = append(rows, row)
		}
	}
	return rows
}

// Criterion is a single gradeable rubric entry.
type Criterion struct {
	Index    int               `json:"criterion_id"`
	Name     string            `json:"criterion_name"`
	MaxScore *float64          `json:"max_score,omitempty"`
	Extra    map[string]string `json:"-"`
}

// Criteria converts the gradeable rows into criteria for the grader.
func (r Rubric) Criteria() []Criterion {
	criterionCol := r.Roles.Criterion()
	maxCol, hasMax := r.Roles.Column(RoleMaxScore)

	rows := r.Gradeable()
	criteria := make([]Criterion, 0, len(rows))
	for _, row := range rows {
		criterion := Criterion{
			Index: row.Index,
			Name:  row.Value(criterionCol),
			Extra: map[string]string{},
		}
		if hasMax {
			if raw := row.Value(maxCol); raw != "" {
				score, _ := ParseScore(raw)
				criterion.MaxScore = &score
			}
		}
		for _, column := range r.Table.Columns {
			if column == criterionCol || (hasMax && column == maxCol) {
				continue
			}
			if value := row.Value(column); value != "" {
				criterion.Extra[NormalizeColumnName(column)] = value
			}
		}
		criteria = append(criteria, criterion)
	}
	return criteria
}

// Record flattens the criterion into the object sent to the grader.
func (c Criterion) Record() map[string]interface{} {
	record := map[string]interface{}{
		"criterion_id":   c.Index,
		"criterion_name": c.Name,
	}
	if c.MaxScore != nil {
		record["max_score"] = *c.MaxScore
	}
	keys := make([]string, 0, len(c.Extra))
	for key := range c.Extra {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if _, taken := record[key]; taken {
			continue
		}
		record[key] = c.Extra[key]
	}
	return record
}

// NormalizeColumnName lower-cases a column name and replaces spaces with underscores.
func NormalizeColumnName(name string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(name), " ", "_"))
}
