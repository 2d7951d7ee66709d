package extract

import "strings"

// Column is one named column of a table, values in row order.
type Column struct {
	Header string
	Values []string
}

// Table is a column-oriented view of a tabular source.
type Table struct {
	Columns []Column
	Rows    int
}

// newTable pivots a header row and data rows into columns. Short rows are padded
// with empty strings and fully blank rows are dropped.
func newTable(header []string, rows [][]string) *Table {
	t := &Table{Columns: make([]Column, len(header))}
	for i, h := range header {
		t.Columns[i] = Column{Header: h, Values: make([]string, 0, len(rows))}
	}

	for _, row := range rows {
		if isBlank(row) {
			continue
		}
		for i := range t.Columns {
			v := ""
			if i < len(row) {
				v = row[i]
			}
			t.Columns[i].Values = append(t.Columns[i].Values, v)
		}
		t.Rows++
	}
	return t
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
