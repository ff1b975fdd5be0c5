package extract

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

func extractXLSX(path string) (*Result, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening XLSX: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	pages := make([]string, 0, len(sheets))
	totalRows := 0

	for _, sheet := range sheets {
		rows, err := f.GetRows(sheet)
		if err != nil {
			continue
		}
		if len(rows) == 0 {
			continue
		}
		totalRows += len(rows)

		var content strings.Builder
		content.WriteString("## Sheet: " + sheet + "\n")
		for i, row := range rows {
			content.WriteString(strings.Join(row, " | ") + "\n")
			// Markdown-style rule under the header row
			if i == 0 && len(rows) > 1 {
				content.WriteString("---\n")
			}
		}
		pages = append(pages, strings.TrimRight(content.String(), "\n"))
	}

	return &Result{
		Text:  strings.Join(pages, "\n\n"),
		Pages: pages,
		Metadata: map[string]string{
			"file_type":   "xlsx",
			"sheet_count": fmt.Sprintf("%d", len(sheets)),
			"row_count":   fmt.Sprintf("%d", totalRows),
		},
	}, nil
}
