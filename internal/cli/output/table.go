package output

import (
	"io"

	"github.com/olekukonko/tablewriter"
)

// TableRenderer is implemented by types that can render themselves as a table.
type TableRenderer interface {
	// Headers returns the column headers for the table.
	Headers() []string
	// Rows returns the data rows for the table.
	Rows() [][]string
}

// newTable returns a borderless, left aligned table writer.
func newTable(w io.Writer, separator string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator(separator)
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	return table
}

// PrintTable writes data as a formatted table to the writer. A renderer
// without headers is printed as "key: value" lines.
func PrintTable(w io.Writer, data TableRenderer) error {
	headers := data.Headers()
	sep := ""
	if len(headers) == 0 {
		sep = ":"
	}
	table := newTable(w, sep)
	if len(headers) > 0 {
		table.SetAutoFormatHeaders(true)
		table.SetHeader(headers)
	}
	table.AppendBulk(data.Rows())
	table.Render()
	return nil
}

// TableData is a simple implementation of TableRenderer for ad-hoc tables.
type TableData struct {
	headers []string
	rows    [][]string
}

// NewTableData creates a new TableData with the given headers.
func NewTableData(headers ...string) *TableData {
	return &TableData{
		headers: headers,
		rows:    make([][]string, 0),
	}
}

// AddRow adds a row to the table.
func (t *TableData) AddRow(row ...string) {
	t.rows = append(t.rows, row)
}

// Headers implements TableRenderer.
func (t *TableData) Headers() []string {
	return t.headers
}

// Rows implements TableRenderer.
func (t *TableData) Rows() [][]string {
	return t.rows
}

// Fields is an ordered list of key/value pairs rendered without headers,
// used for single-object views such as status.
type Fields [][2]string

// Add appends a pair and returns the extended list.
func (f Fields) Add(key, value string) Fields {
	return append(f, [2]string{key, value})
}

// Headers implements TableRenderer.
func (f Fields) Headers() []string { return nil }

// Rows implements TableRenderer.
func (f Fields) Rows() [][]string {
	rows := make([][]string, 0, len(f))
	for _, pair := range f {
		rows = append(rows, []string{pair[0], pair[1]})
	}
	return rows
}
