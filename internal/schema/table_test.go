package schema

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTable() *Table {
	return &Table{
		Name: "t",
		Columns: []Column{
			{Name: "id", Type: String},
			{Name: "n", Type: Int64, Nullable: true},
			{Name: "d", Type: Date, Nullable: true},
		},
		Key: []string{"id"},
	}
}

func TestValidate(t *testing.T) {
	tbl := sampleTable()
	tbl.Append("a", int64(1), time.Date(2016, 4, 1, 0, 0, 0, 0, time.UTC))
	tbl.Append("b", nil, nil)
	require.NoError(t, tbl.Validate())

	tbl.Rows = append(tbl.Rows, []any{nil, nil, nil})
	err := tbl.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NULL in non-nullable column")

	tbl.Rows = [][]any{{"a", 1, nil}}
	err = tbl.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not int64")
}

func TestValidateDefinition(t *testing.T) {
	tbl := sampleTable()
	tbl.Key = []string{"missing"}
	assert.Error(t, tbl.Validate())

	tbl = sampleTable()
	tbl.Columns = append(tbl.Columns, Column{Name: "id", Type: String})
	assert.Error(t, tbl.Validate())

	tbl = sampleTable()
	tbl.ForeignKeys = []ForeignKey{{Column: "nope", RefTable: "x", RefColumn: "y"}}
	assert.Error(t, tbl.Validate())
}

func TestAppendPanicsOnWidthMismatch(t *testing.T) {
	assert.Panics(t, func() { sampleTable().Append("only-one") })
}

func TestKeyString(t *testing.T) {
	row := []any{"NEW YORK", "NY", nil, int64(7)}

	k, ok := KeyString(row, []int{0, 1})
	assert.True(t, ok)
	assert.Equal(t, "NEW YORK|NY", k)

	k, ok = KeyString(row, []int{3})
	assert.True(t, ok)
	assert.Equal(t, "7", k)

	_, ok = KeyString(row, []int{0, 2})
	assert.False(t, ok)
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "2016-04-30", FormatValue(time.Date(2016, 4, 30, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "2.5", FormatValue(2.5))
	assert.Equal(t, "", FormatValue(nil))
}
