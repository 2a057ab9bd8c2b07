package reports

import (
	"bytes"

	"github.com/xuri/excelize/v2"
)

const XlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// ExcelExporter is one row of an exported sheet.
type ExcelExporter interface {
	GetCellValues() []interface{}
}

// writeSheet fills sheetName with a bold header row and one row per record.
func writeSheet(f *excelize.File, sheetName string, headings []string, data []ExcelExporter) error {
	if _, err := f.NewSheet(sheetName); err != nil {
		return err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}

	for i, h := range headings {
		cell, err := excelize.CoordinatesToCellName(i+1, 1)
		if err != nil {
			return err
		}
		if err := f.SetCellValue(sheetName, cell, h); err != nil {
			return err
		}
	}
	if len(headings) > 0 {
		last, _ := excelize.CoordinatesToCellName(len(headings), 1)
		if err := f.SetCellStyle(sheetName, "A1", last, headerStyle); err != nil {
			return err
		}
	}

	for r, d := range data {
		for c, value := range d.GetCellValues() {
			cell, err := excelize.CoordinatesToCellName(c+1, r+2)
			if err != nil {
				return err
			}
			if err := f.SetCellValue(sheetName, cell, value); err != nil {
				return err
			}
		}
	}
	return nil
}

func workbookBytes(f *excelize.File) ([]byte, error) {
	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
