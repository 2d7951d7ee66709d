package extract

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// XLSXReader reads the first worksheet of an Office Open XML workbook. The
// first row is the header.
type XLSXReader struct{}

func NewXLSXReader() *XLSXReader {
	return &XLSXReader{}
}

func (x *XLSXReader) Name() string {
	return "xlsx"
}

func (x *XLSXReader) Extensions() []string {
	return []string{".xlsx", ".xlsm"}
}

func (x *XLSXReader) Read(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	sheet := sheets[0]

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheet, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("sheet %s is empty", sheet)
	}

	c := &cellCoercer{f: f, sheet: sheet, dateStyles: make(map[int]bool)}
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		c.date1904 = *props.Date1904
	}

	body := make([][]string, 0, len(rows)-1)
	for i, row := range rows[1:] {
		out := make([]string, len(row))
		for j, raw := range row {
			out[j] = c.value(j+1, i+2, raw)
		}
		body = append(body, out)
	}
	return newTable(rows[0], body), nil
}

// cellCoercer turns raw cell values into record strings, formatting date cells.
type cellCoercer struct {
	f          *excelize.File
	sheet      string
	date1904   bool
	dateStyles map[int]bool
}

func (c *cellCoercer) value(col, row int, raw string) string {
	if raw == "" {
		return ""
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return strings.TrimSpace(raw)
	}

	typ, _ := c.f.GetCellType(c.sheet, cell)
	switch typ {
	case excelize.CellTypeDate:
		return coerceText(raw)
	case excelize.CellTypeBool:
		if raw == "1" {
			return "TRUE"
		}
		return "FALSE"
	}

	if c.isDateCell(cell) {
		if serial, err := strconv.ParseFloat(raw, 64); err == nil {
			if t, err := excelize.ExcelDateToTime(serial, c.date1904); err == nil {
				return t.Format(DateLayout)
			}
		}
	}
	return strings.TrimSpace(raw)
}

func (c *cellCoercer) isDateCell(cell string) bool {
	styleID, err := c.f.GetCellStyle(c.sheet, cell)
	if err != nil || styleID == 0 {
		return false
	}
	if isDate, ok := c.dateStyles[styleID]; ok {
		return isDate
	}

	isDate := false
	if style, err := c.f.GetStyle(styleID); err == nil && style != nil {
		if style.CustomNumFmt != nil {
			isDate = isDateFormatCode(*style.CustomNumFmt)
		} else {
			isDate = isBuiltinDateFormat(style.NumFmt)
		}
	}
	c.dateStyles[styleID] = isDate
	return isDate
}

func isBuiltinDateFormat(id int) bool {
	switch {
	case id >= 14 && id <= 22:
		return true
	case id >= 27 && id <= 36:
		return true
	case id >= 45 && id <= 47:
		return true
	case id >= 50 && id <= 58:
		return true
	}
	return false
}

// isDateFormatCode reports whether a custom number format renders a date. Quoted
// literals and bracketed sections are ignored.
func isDateFormatCode(code string) bool {
	var b strings.Builder
	inQuote := false
	inBracket := false
	for _, r := range code {
		switch {
		case r == '"':
			inQuote = !inQuote
		case inQuote:
		case r == '[':
			inBracket = true
		case r == ']':
			inBracket = false
		case inBracket:
		default:
			b.WriteRune(r)
		}
	}
	s := strings.ToLower(b.String())
	return strings.ContainsAny(s, "dy") || (strings.Contains(s, "m") && !strings.Contains(s, "0") && !strings.Contains(s, "#"))
}
