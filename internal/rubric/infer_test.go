package rubric

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func scenarioARaw() RawTable {
	return RawTable{
		{"Web Project Rubric", "", ""},
		{"Semester 2", "", ""},
		{"Category", "Evaluation Criteria", "Max Score"},
		{"Design", "Layout is responsive", "5"},
		{"", "Colours are consistent", "3"},
		{"Code", "Functions are documented", "4"},
		{"", "Tests exist", "TBD"},
		{"", "Linting passes", "2"},
	}
}

func TestDetectHeaderFindsKeywordRow(t *testing.T) {
	header, found := DetectHeader(scenarioARaw())
	require.True(t, found)
	require.Equal(t, 2, header)
}

func TestDetectHeaderDefaultsToFirstRow(t *testing.T) {
	raw := RawTable{
		{"alpha", "beta"},
		{"1", "2"},
	}
	header, found := DetectHeader(raw)
	require.False(t, found)
	require.Equal(t, 0, header)
}

func TestDetectHeaderOnlyScansLeadingRows(t *testing.T) {
	raw := make(RawTable, 0, 12)
	for i := 0; i < 11; i++ {
		raw = append(raw, []string{"filler", "row"})
	}
	raw = append(raw, []string{"Category", "Criterion"})

	header, found := DetectHeader(raw)
	require.False(t, found)
	require.Zero(t, header)
}

func TestAssignRolesScenarioA(t *testing.T) {
	raw := scenarioARaw()
	header, _ := DetectHeader(raw)
	table := BuildTable(raw, header)

	roles, err := AssignRoles(table)
	require.NoError(t, err)

	maxCol, ok := roles.Column(RoleMaxScore)
	require.True(t, ok)
	require.Equal(t, "Max Score", maxCol)

	category, ok := roles.Column(RoleCategory)
	require.True(t, ok)
	require.Equal(t, "Category", category)
	require.Equal(t, "Evaluation Criteria", roles.Criterion())

	_, ok = roles.Column(RoleParameters)
	require.False(t, ok)
}

func TestAssignRolesRejectsSparseScoreColumn(t *testing.T) {
	table := BuildTable(RawTable{
		{"Criterion", "Score Notes"},
		{"A", "good"},
		{"B", "n/a"},
		{"C", "1"},
	}, 0)

	roles, err := AssignRoles(table)
	require.NoError(t, err)
	_, ok := roles.Column(RoleMaxScore)
	require.False(t, ok)
}

func TestAssignRolesNeverSharesColumns(t *testing.T) {
	table := BuildTable(RawTable{
		{"Group Score", "Module", "Item Description"},
		{"5", "Backend", "API works"},
		{"3", "Frontend", "UI renders"},
	}, 0)

	roles, err := AssignRoles(table)
	require.NoError(t, err)

	seen := map[string]Role{}
	for _, role := range roles.Roles() {
		column, _ := roles.Column(role)
		other, dup := seen[column]
		require.Falsef(t, dup, "column %q bound to %s and %s", column, other, role)
		seen[column] = role
	}

	maxCol, _ := roles.Column(RoleMaxScore)
	require.Equal(t, "Group Score", maxCol)
	category, _ := roles.Column(RoleCategory)
	require.Equal(t, "Module", category)
	require.Equal(t, "Item Description", roles.Criterion())
}

func TestAssignRolesFallsBackToFirstTextColumn(t *testing.T) {
	table := BuildTable(RawTable{
		{"Number", "Requirement"},
		{"1", "Has a README"},
		{"2", "Builds cleanly"},
	}, 0)

	roles, err := AssignRoles(table)
	require.NoError(t, err)
	require.Equal(t, "Requirement", roles.Criterion())
}

func TestAssignRolesFailsWithoutCriterion(t *testing.T) {
	table := BuildTable(RawTable{
		{"A", "B"},
		{"1", "2"},
		{"3", "4"},
	}, 0)

	_, err := AssignRoles(table)
	require.Error(t, err)
	require.ErrorIs(t, err, ErrSchemaInference)

	var schemaErr *SchemaError
	require.True(t, errors.As(err, &schemaErr))
	require.Equal(t, []string{"A", "B"}, schemaErr.Columns)
}

func TestNewColumnRoleMapRejectsSharedColumn(t *testing.T) {
	_, err := NewColumnRoleMap(map[Role]string{
		RoleCriterion: "Item",
		RoleCategory:  "Item",
	})
	require.Error(t, err)
}

func TestBuildTableDropsEmptyColumnsAndRows(t *testing.T) {
	table := BuildTable(RawTable{
		{"Criterion", "Unused", "", "Criterion"},
		{"A", "", "", "x"},
		{"", "", "", ""},
		{"B", "", "", "y"},
	}, 0)

	require.Equal(t, []string{"Criterion", "Criterion.1"}, table.Columns)
	require.Len(t, table.Rows, 2)
	require.Equal(t, 0, table.Rows[0].Index)
	require.Equal(t, 1, table.Rows[1].Index)
	require.Equal(t, "B", table.Rows[1].Values["Criterion"])
}

func TestForwardFillScenarioBAndGroupScores(t *testing.T) {
	table := BuildTable(RawTable{
		{"Category", "Parameters", "Criterion", "Points"},
		{"Design", "Layout", "Grid used", "5"},
		{"", "", "Spacing consistent", ""},
		{"", "Colour", "Palette", "2"},
		{"", "", "", ""},
		{"Code", "", "Section header", ""},
		{"", "", "", "10"},
	}, 0)
	roles, err := AssignRoles(table)
	require.NoError(t, err)

	filled := ForwardFill(table, roles)

	require.Equal(t, "Design", filled.Rows[1].Values["Category"])
	require.Equal(t, "Layout", filled.Rows[1].Values["Parameters"])
	require.Equal(t, "5", filled.Rows[1].Values["Points"])
	require.Equal(t, "Colour", filled.Rows[2].Values["Parameters"])
	require.False(t, filled.Rows[2].IsSummary)

	summary := filled.Rows[len(filled.Rows)-1]
	require.True(t, summary.IsSummary)
	require.Equal(t, "Code", summary.Values["Category"])

	rubric := Rubric{Roles: roles, Table: filled}
	for _, row := range rubric.Gradeable() {
		require.NotEqual(t, summary.Index, row.Index)
	}
	require.Len(t, filled.Rows, len(table.Rows))

	// the input table is untouched
	require.Equal(t, "", table.Rows[1].Values["Category"])
}

func TestForwardFillIsIdempotent(t *testing.T) {
	raw := scenarioARaw()
	header, _ := DetectHeader(raw)
	table := BuildTable(raw, header)
	roles, err := AssignRoles(table)
	require.NoError(t, err)

	once := ForwardFill(table, roles)
	twice := ForwardFill(once, roles)
	require.Equal(t, once, twice)
}

func TestInferCSVAndCriteria(t *testing.T) {
	csvData := strings.Join([]string{
		"Course rubric,,,",
		"Category,Criterion,Max Score,Notes",
		"Design,Wireframes provided,5,check figma",
		",Accessible colours,3,",
		"Code,Clean structure,4/5,",
		",,,",
	}, "\n")

	inferrer := NewInferrer(zerolog.Nop())
	result, err := inferrer.Infer("rubric.csv", strings.NewReader(csvData))
	require.NoError(t, err)
	require.Equal(t, 1, result.Table.HeaderRow)

	criteria := result.Criteria()
	require.Len(t, criteria, 3)
	require.Equal(t, 0, criteria[0].Index)
	require.Equal(t, "Wireframes provided", criteria[0].Name)
	require.NotNil(t, criteria[0].MaxScore)
	require.Equal(t, 5.0, *criteria[0].MaxScore)
	require.Equal(t, "Design", criteria[1].Extra["category"])
	require.Equal(t, "check figma", criteria[0].Extra["notes"])
	require.Equal(t, 4.0, *criteria[2].MaxScore)

	record := criteria[0].Record()
	require.Equal(t, 0, record["criterion_id"])
	require.Equal(t, "Design", record["category"])

	markdown := result.Markdown()
	require.Contains(t, markdown, "Criterion")
	require.Contains(t, markdown, "Clean structure")
}

func TestInferWorkbook(t *testing.T) {
	book := excelize.NewFile()
	defer book.Close()
	rows := [][]interface{}{
		{"Skill Cluster", "Evaluation Criteria", "Points"},
		{"Backend", "REST endpoints", 10},
		{"", "Persistence", 5},
	}
	for idx, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, idx+1)
		require.NoError(t, err)
		require.NoError(t, book.SetSheetRow("Sheet1", cell, &row))
	}
	buf, err := book.WriteToBuffer()
	require.NoError(t, err)

	result, err := NewInferrer(zerolog.Nop()).Infer("rubric.xlsx", bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)

	category, ok := result.Roles.Column(RoleCategory)
	require.True(t, ok)
	require.Equal(t, "Skill Cluster", category)
	require.Equal(t, "Backend", result.Table.Rows[1].Values["Skill Cluster"])
}

func TestInferRejectsUnsupportedFormat(t *testing.T) {
	_, err := NewInferrer(zerolog.Nop()).Infer("rubric.ods", strings.NewReader(""))
	require.ErrorIs(t, err, ErrUnsupportedRubric)
}

func TestParseScore(t *testing.T) {
	cases := []struct {
		in    string
		want  float64
		valid bool
	}{
		{"5", 5, true},
		{" 4.5 ", 4.5, true},
		{"3/5", 3, true},
		{"", 0, false},
		{"abc", 0, false},
		{"NaN", 0, false},
	}
	for _, tc := range cases {
		got, ok := ParseScore(tc.in)
		require.Equal(t, tc.valid, ok, tc.in)
		require.Equal(t, tc.want, got, tc.in)
	}
}
