package ingestion

import (
	"bytes"
	"encoding/csv"
	"errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/retail-agent/backend/internal/catalog"
)

// ReadRows decodes a spreadsheet into rows of cells, header first. The format
// is chosen by the filename extension; only the first sheet of a workbook is
// read.
func ReadRows(filename string, content []byte) ([][]string, error) {
	var (
		rows [][]string
		err  error
	)

	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".xlsx", ".xlsm":
		rows, err = readWorkbook(content)
	case ".csv":
		rows, err = readCSV(content)
	default:
		return nil, catalog.NewValidationError("file", "unsupported file type %q, expected .xlsx or .csv", ext)
	}
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, catalog.NewValidationError("file", "file is empty")
	}
	return rows, nil
}

func readWorkbook(content []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, catalog.NewValidationError("file", "unreadable workbook: %v", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, catalog.NewValidationError("file", "workbook has no sheets")
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, catalog.NewValidationError("file", "unreadable sheet %q: %v", sheets[0], err)
	}
	return rows, nil
}

func readCSV(content []byte) ([][]string, error) {
	r := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(content, []byte("\xef\xbb\xbf"))))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	var rows [][]string
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, catalog.NewValidationError("file", "unreadable csv: %v", err)
		}
		rows = append(rows, record)
	}
	return rows, nil
}
