package ingest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// loadExcel streams workbook rows one at a time so large spreadsheets never
// load wholesale. Each non-empty row becomes one unit as a tab-joined line
// carrying sheet_name and row_number metadata; source is qualified with the
// sheet name so retrieval output can point at the exact origin.
func loadExcel(path, name string) ([]Unit, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("opening workbook %s: %w", name, err)
	}
	defer f.Close()

	var units []Unit
	for _, sheet := range f.GetSheetList() {
		rows, err := f.Rows(sheet)
		if err != nil {
			return nil, fmt.Errorf("reading sheet %q in %s: %w", sheet, name, err)
		}

		rowNum := 0
		for rows.Next() {
			rowNum++
			cols, err := rows.Columns()
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("reading %s sheet %q row %d: %w", name, sheet, rowNum, err)
			}

			line := strings.TrimSpace(strings.Join(cols, "\t"))
			if line == "" {
				continue
			}

			units = append(units, Unit{
				Text: line,
				Metadata: map[string]string{
					unitSource:   name + ":" + sheet,
					"sheet_name": sheet,
					"row_number": strconv.Itoa(rowNum),
				},
			})
		}
		if err := rows.Close(); err != nil {
			return nil, fmt.Errorf("closing row iterator for %s sheet %q: %w", name, sheet, err)
		}
	}

	return units, nil
}
