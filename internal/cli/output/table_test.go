package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTableData(t *testing.T) {
	table := NewTableData("Target", "Type", "Files")

	assert.Equal(t, []string{"Target", "Type", "Files"}, table.Headers())
	assert.Empty(t, table.Rows())

	table.AddRow("disk", "local", "3")
	table.AddRow("bucket", "s3", "0")

	rows := table.Rows()
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"disk", "local", "3"}, rows[0])
	assert.Equal(t, []string{"bucket", "s3", "0"}, rows[1])
}

func TestPrintTable(t *testing.T) {
	table := NewTableData("Name", "Value")
	table.AddRow("key1", "value1")
	table.AddRow("key2", "value2")

	var buf bytes.Buffer
	err := PrintTable(&buf, table)
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "NAME")
	assert.Contains(t, output, "VALUE")
	assert.Contains(t, output, "key1")
	assert.Contains(t, output, "value1")
	assert.Contains(t, output, "key2")
	assert.Contains(t, output, "value2")
}

func TestFields(t *testing.T) {
	fields := Fields{}.
		Add("State", "RUNNING").
		Add("Free blocks", "60 / 64")

	assert.Nil(t, fields.Headers())
	require.Len(t, fields.Rows(), 2)

	var buf bytes.Buffer
	require.NoError(t, PrintTable(&buf, fields))

	output := buf.String()
	assert.Contains(t, output, "State")
	assert.Contains(t, output, "RUNNING")
	assert.Contains(t, output, "Free blocks")
	assert.Contains(t, output, "60 / 64")
	assert.Contains(t, output, ":")
}
