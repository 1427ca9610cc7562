package rubric

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SupportedExtensions lists rubric file extensions LoadRaw understands.
var SupportedExtensions = []string{".csv", ".xlsx", ".xlsm"}

// LoadRaw reads every cell of a rubric file without assuming a header.
func LoadRaw(name string, r io.Reader) (RawTable, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return loadCSV(r)
	case ".xlsx", ".xlsm":
		return loadWorkbook(r)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedRubric, filepath.Ext(name))
	}
}

func loadCSV(r io.Reader) (RawTable, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	var raw RawTable
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				// malformed lines are skipped
				continue
			}
			return nil, fmt.Errorf("read rubric csv: %w", err)
		}
		raw = append(raw, record)
	}
	return raw, nil
}

func loadWorkbook(r io.Reader) (RawTable, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open rubric workbook: %w", err)
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("rubric workbook has no sheets")
	}

	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read rubric sheet %q: %w", sheets[0], err)
	}
	return RawTable(rows), nil
}
