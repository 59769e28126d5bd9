package services

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// LogFormat selects the file type of an activity log export
type LogFormat string

const (
	LogFormatCSV  LogFormat = "csv"
	LogFormatXLSX LogFormat = "xlsx"
)

// ErrLogNotFound means nothing has been logged yet
var ErrLogNotFound = errors.New("activity log does not exist yet")

const activitySheet = "Activity"

// ParseLogFormat maps a user argument to a LogFormat; empty means CSV
func ParseLogFormat(value string) (LogFormat, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "csv":
		return LogFormatCSV, nil
	case "xlsx", "excel":
		return LogFormatXLSX, nil
	}
	return "", fmt.Errorf("unsupported log format %q (use csv or xlsx)", value)
}

// LogExport is a rendered activity log ready to be sent as a document
type LogExport struct {
	Filename string
	Data     []byte
	Rows     int
}

// LogExporter renders the CSV activity log for download
type LogExporter struct {
	source *CSVActivityLog
}

// NewLogExporter creates an exporter over the CSV sink
func NewLogExporter(source *CSVActivityLog) *LogExporter {
	return &LogExporter{source: source}
}

// Export reads the log and renders it in the requested format
func (e *LogExporter) Export(format LogFormat) (*LogExport, error) {
	data, err := e.source.ReadAll()
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read activity log: %w", err)
	}

	base := strings.TrimSuffix(baseName(e.source.Path()), ".csv")

	switch format {
	case LogFormatXLSX:
		xlsx, rows, err := CSVToXLSX(data)
		if err != nil {
			return nil, err
		}
		return &LogExport{Filename: base + ".xlsx", Data: xlsx, Rows: rows}, nil
	default:
		return &LogExport{Filename: base + ".csv", Data: data, Rows: countDataRows(data)}, nil
	}
}

// CSVToXLSX converts an activity log CSV into a single-sheet workbook and
// returns it with the number of data rows
func CSVToXLSX(data []byte) ([]byte, int, error) {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to parse activity log: %w", err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", activitySheet); err != nil {
		return nil, 0, fmt.Errorf("failed to name sheet: %w", err)
	}

	for i, record := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return nil, 0, err
		}
		row := make([]interface{}, len(record))
		for j, value := range record {
			row[j] = value
			// user_id column as a number so the sheet sorts and filters numerically
			if i > 0 && j == 1 {
				if id, err := strconv.ParseInt(value, 10, 64); err == nil {
					row[j] = id
				}
			}
		}
		if err := f.SetSheetRow(activitySheet, cell, &row); err != nil {
			return nil, 0, fmt.Errorf("failed to write row %d: %w", i+1, err)
		}
	}

	if len(records) > 0 {
		if err := styleActivitySheet(f, len(records[0]), len(records)); err != nil {
			return nil, 0, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to render workbook: %w", err)
	}

	rows := len(records) - 1
	if rows < 0 {
		rows = 0
	}
	return buf.Bytes(), rows, nil
}

func styleActivitySheet(f *excelize.File, cols, rows int) error {
	header, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"DDEBF7"}},
	})
	if err != nil {
		return fmt.Errorf("failed to create header style: %w", err)
	}

	lastCol, err := excelize.ColumnNumberToName(cols)
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(activitySheet, "A1", lastCol+"1", header); err != nil {
		return fmt.Errorf("failed to style header: %w", err)
	}

	widths := map[string]float64{"A": 34, "B": 14, "C": 20, "D": 18, "E": 48, "F": 12}
	for col, width := range widths {
		if err := f.SetColWidth(activitySheet, col, col, width); err != nil {
			return fmt.Errorf("failed to set column width: %w", err)
		}
	}

	if err := f.SetPanes(activitySheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze header: %w", err)
	}

	if rows > 1 {
		if err := f.AutoFilter(activitySheet, fmt.Sprintf("A1:%s%d", lastCol, rows), nil); err != nil {
			return fmt.Errorf("failed to add filter: %w", err)
		}
	}
	return nil
}

func countDataRows(data []byte) int {
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	if err != nil || len(records) == 0 {
		return 0
	}
	return len(records) - 1
}

func baseName(path string) string {
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
