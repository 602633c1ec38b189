package ingestion

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rpattn/tracelift/internal/validation"

	"github.com/xuri/excelize/v2"
)

// ErrUnsupportedFormat is returned when an uploaded file is not supported.
var ErrUnsupportedFormat = errors.New("unsupported file format")

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// Column labels the upload contract requires in the header row. Matching is
// case-insensitive and order-insensitive.
const (
	columnDate          = "date"
	columnPurposeID     = "purpose_id"
	columnStatus        = "status"
	columnRequestsCount = "requests_count"
)

// Decode parses an uploaded tracing file into raw rows. Row numbers are
// 1-based over the data rows, matching source order with the header excluded.
// Any failure here is a file-level decode error, not a per-row one.
func Decode(fileName string, payload []byte) ([]validation.RawRow, error) {
	if len(payload) == 0 {
		return nil, nil
	}

	ext := strings.ToLower(filepath.Ext(fileName))
	switch ext {
	case ".csv", "":
		return decodeCSV(payload)
	case ".xlsx":
		return decodeExcel(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
}

func decodeCSV(payload []byte) ([]validation.RawRow, error) {
	reader := bufio.NewReader(bytes.NewReader(payload))
	if prefix, err := reader.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = reader.Discard(len(byteOrderMark))
	}

	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv: %w", err)
	}

	return buildRows(records)
}

func decodeExcel(payload []byte) ([]validation.RawRow, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("excel file has no sheets")
	}

	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}

	return buildRows(records)
}

func buildRows(records [][]string) ([]validation.RawRow, error) {
	if len(records) == 0 {
		return nil, nil
	}

	columns, err := mapColumns(records[0])
	if err != nil {
		return nil, err
	}

	rows := make([]validation.RawRow, 0, len(records)-1)
	for idx, record := range records[1:] {
		if emptyRecord(record) {
			continue
		}
		rows = append(rows, validation.RawRow{
			RowNumber:     idx + 1,
			Date:          cell(record, columns[columnDate]),
			PurposeID:     cell(record, columns[columnPurposeID]),
			Status:        cell(record, columns[columnStatus]),
			RequestsCount: cell(record, columns[columnRequestsCount]),
		})
	}

	return rows, nil
}

func mapColumns(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for idx, label := range header {
		name := strings.ToLower(strings.TrimSpace(label))
		if name == "" {
			continue
		}
		if _, dup := columns[name]; !dup {
			columns[name] = idx
		}
	}

	for _, required := range []string{columnDate, columnPurposeID, columnStatus, columnRequestsCount} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("header is missing required column %q", required)
		}
	}

	return columns, nil
}

func cell(record []string, idx int) string {
	if idx < 0 || idx >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[idx])
}

func emptyRecord(record []string) bool {
	for _, value := range record {
		if strings.TrimSpace(value) != "" {
			return false
		}
	}
	return true
}
