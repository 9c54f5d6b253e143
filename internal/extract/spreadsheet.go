package extract

import (
	"bytes"
	"strings"

	"github.com/xuri/excelize/v2"
)

type spreadsheetExtractor struct{}

// Extract renders one paragraph per sheet and one line per row.
func (spreadsheetExtractor) Extract(blob []byte) (string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(blob))
	if err != nil {
		return "", &ExtractionError{Format: MimeXLSX, Cause: err}
	}
	defer f.Close()

	var sheets []string
	for _, name := range f.GetSheetList() {
		rows, err := f.GetRows(name)
		if err != nil {
			return "", &ExtractionError{Format: MimeXLSX, Cause: err}
		}

		lines := []string{name}
		for _, row := range rows {
			line := strings.TrimSpace(strings.Join(row, "\t"))
			if line != "" {
				lines = append(lines, line)
			}
		}
		if len(lines) > 1 {
			sheets = append(sheets, strings.Join(lines, "\n"))
		}
	}
	return strings.Join(sheets, "\n\n"), nil
}
