package report

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet holding the graded rubric.
const SheetName = "Analysis Results"

const (
	headerFill   = "#D9D9D9"
	subtotalFill = "#DDEBF7"
	totalFill    = "#FFFF00"

	widthPadding       = 3
	minCriterionWidth  = 50
	minCommentsWidth   = 60
	maxExcelColumnSize = 255
)

var thinBorder = []excelize.Border{
	{Type: "left", Color: "#000000", Style: 1},
	{Type: "top", Color: "#000000", Style: 1},
	{Type: "right", Color: "#000000", Style: 1},
	{Type: "bottom", Color: "#000000", Style: 1},
}

type workbookStyles struct {
	header   int
	body     int
	subtotal int
	total    int
}

func newWorkbookStyles(f *excelize.File) (workbookStyles, error) {
	var (
		styles workbookStyles
		err    error
	)
	styles.header, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{headerFill}},
		Border:    thinBorder,
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center", WrapText: true},
	})
	if err != nil {
		return styles, err
	}
	styles.body, err = f.NewStyle(&excelize.Style{
		Border:    thinBorder,
		Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
	})
	if err != nil {
		return styles, err
	}
	styles.subtotal, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{subtotalFill}},
		Border:    thinBorder,
		Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
	})
	if err != nil {
		return styles, err
	}
	styles.total, err = f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{totalFill}},
		Border:    thinBorder,
		Alignment: &excelize.Alignment{Vertical: "top", WrapText: true},
	})
	return styles, err
}

// rowStyle picks the fill from the row text; rubric rows reading like totals get it too.
func (s workbookStyles) rowStyle(row Row, l layout) int {
	criterion := strings.ToLower(strings.TrimSpace(cellOf(row, l, l.criterion)))
	if strings.Contains(criterion, "total marks out of") {
		return s.total
	}
	if l.hasCategory {
		category := strings.ToLower(strings.TrimSpace(cellOf(row, l, l.category)))
		if strings.HasSuffix(category, " total") {
			return s.subtotal
		}
	}
	return s.body
}

func cellOf(row Row, l layout, column string) string {
	if idx, ok := l.position[column]; ok {
		return row.Cells[idx]
	}
	return ""
}

func renderWorkbook(report Report, l layout) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		return nil, err
	}

	styles, err := newWorkbookStyles(f)
	if err != nil {
		return nil, err
	}

	lastColumn, err := excelize.ColumnNumberToName(len(report.Columns))
	if err != nil {
		return nil, err
	}

	header := make([]interface{}, len(report.Columns))
	for i, column := range report.Columns {
		header[i] = column
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return nil, err
	}
	if err := f.SetCellStyle(SheetName, "A1", lastColumn+"1", styles.header); err != nil {
		return nil, err
	}

	numericColumns := map[int]bool{l.position[ScoreColumn]: true}
	if l.hasMax {
		numericColumns[l.position[l.maxScore]] = true
	}

	for i, row := range report.Rows {
		excelRow := i + 2
		values := make([]interface{}, len(row.Cells))
		for j, cell := range row.Cells {
			values[j] = cellValue(cell, numericColumns[j])
		}
		start, err := excelize.CoordinatesToCellName(1, excelRow)
		if err != nil {
			return nil, err
		}
		if err := f.SetSheetRow(SheetName, start, &values); err != nil {
			return nil, err
		}
		end := lastColumn + strconv.Itoa(excelRow)
		if err := f.SetCellStyle(SheetName, start, end, styles.rowStyle(row, l)); err != nil {
			return nil, err
		}
	}

	for i, column := range report.Columns {
		name, err := excelize.ColumnNumberToName(i + 1)
		if err != nil {
			return nil, err
		}
		if err := f.SetColWidth(SheetName, name, name, columnWidth(report, i, column, l)); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func cellValue(cell string, numeric bool) interface{} {
	if !numeric {
		return cell
	}
	if value, err := strconv.ParseFloat(strings.TrimSpace(cell), 64); err == nil {
		return value
	}
	return cell
}

func columnWidth(report Report, idx int, column string, l layout) float64 {
	widest := utf8.RuneCountInString(column)
	for _, row := range report.Rows {
		if n := utf8.RuneCountInString(row.Cells[idx]); n > widest {
			widest = n
		}
	}
	width := widest + widthPadding
	if column == l.criterion && width < minCriterionWidth {
		width = minCriterionWidth
	}
	if column == CommentsColumn && width < minCommentsWidth {
		width = minCommentsWidth
	}
	if width > maxExcelColumnSize {
		width = maxExcelColumnSize
	}
	return float64(width)
}
