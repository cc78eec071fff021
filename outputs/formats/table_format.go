package formats

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/cube2222/udfbridge/schema"
)

// TableFormatter buffers all rows and renders them as one ascii table on Close.
type TableFormatter struct {
	table *tablewriter.Table
}

func NewTableFormatter(w io.Writer) *TableFormatter {
	table := tablewriter.NewWriter(w)
	table.SetColWidth(48)
	table.SetRowLine(false)
	table.SetAutoFormatHeaders(false)

	return &TableFormatter{
		table: table,
	}
}

func (t *TableFormatter) SetSchema(s *schema.Schema) {
	t.table.SetHeader(s.Names())
}

func (t *TableFormatter) Write(values []schema.Value) error {
	row := make([]string, len(values))
	for i := range values {
		row[i] = tableCell(values[i])
	}
	t.table.Append(row)
	return nil
}

// Top-level strings are printed unquoted, nulls as empty cells.
func tableCell(value schema.Value) string {
	switch value.Type.TypeID {
	case schema.TypeIDNull:
		return ""
	case schema.TypeIDString:
		return value.Str
	case schema.TypeIDLargeBinary:
		if value.Handle.Committed() {
			return fmt.Sprintf("%s (%d bytes)", value.Handle.URI, value.Handle.Size)
		}
		return value.Handle.URI
	}
	return value.String()
}

func (t *TableFormatter) Close() error {
	t.table.Render()
	return nil
}
