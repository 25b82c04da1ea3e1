package load

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"
)

const tmpCSVPattern = "alphavantage-*.csv"

// EncodeCSV writes a header and the rows, formatting every value the way
// DuckDB's read_csv expects for the matching column type.
func EncodeCSV(header []string, rows [][]any) ([]byte, error) {
	var buffer bytes.Buffer
	writer := csv.NewWriter(&buffer)

	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	record := make([]string, len(header))
	for _, row := range rows {
		if len(row) != len(header) {
			return nil, fmt.Errorf("row has %d values, header has %d columns", len(row), len(header))
		}
		for i, v := range row {
			s, err := csvValue(v)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", header[i], err)
			}
			record[i] = s
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV data: %w", err)
		}
	}

	// Flush the writer to ensure all data is written to the buffer
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush CSV writer: %w", err)
	}

	return buffer.Bytes(), nil
}

func csvValue(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case time.Time:
		return t.Format("2006-01-02 15:04:05"), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case int:
		return strconv.Itoa(t), nil
	default:
		return "", fmt.Errorf("unsupported value type %T", v)
	}
}

func createTmpFile(csv []byte) (*os.File, error) {
	if len(csv) == 0 {
		return nil, fmt.Errorf("received empty CSV data")
	}

	tmpFile, err := os.CreateTemp("", tmpCSVPattern)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}

	// Write the CSV data to the temporary file
	if _, err := tmpFile.Write(csv); err != nil {
		tmpFile.Close()
		os.Remove(tmpFile.Name())
		return nil, fmt.Errorf("failed to write to temporary file: %w", err)
	}

	// Close the file to flush the data
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpFile.Name())
		return nil, fmt.Errorf("failed to close temporary file: %w", err)
	}

	return tmpFile, nil
}
