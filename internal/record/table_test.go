package record

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReadCSV(t *testing.T) {
	data := "\xEF\xBB\xBFfirst_name, middle_name ,last_name,email\n" +
		"john,,SMITH,j@x.com\n" +
		"\n" +
		"ann,marie\n" +
		"bob,b,jones,b@x.com,extra\n"

	table, err := ReadCSV(strings.NewReader(data))
	require.NoError(t, err)
	require.Equal(t, []string{"first_name", "middle_name", "last_name", "email"}, table.Columns())
	require.Equal(t, 3, table.Len())

	first := table.Row(0)
	require.Equal(t, "john", *first.Get("first_name"))
	require.Nil(t, first.Get("middle_name"))
	require.Equal(t, "j@x.com", *first.Get("email"))

	short := table.Row(1)
	require.Equal(t, "marie", *short.Get("middle_name"))
	require.Nil(t, short.Get("last_name"))
	require.Nil(t, short.Get("email"))

	require.Len(t, table.Row(2).Values(), 4)
}

func TestReadCSVHeaderErrors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	require.Error(t, err)

	_, err = ReadCSV(strings.NewReader("a,b,a\n1,2,3\n"))
	require.ErrorContains(t, err, "duplicate column")

	_, err = ReadCSV(strings.NewReader("a,,c\n"))
	require.ErrorContains(t, err, "empty name")
}

func TestWithColumnDoesNotMutateInput(t *testing.T) {
	in := MustTable([]string{"a"}, []*string{String("x")}, []*string{nil})

	out := in.WithColumn("a", func(r Row) *string {
		if v := r.Get("a"); v != nil {
			return String(strings.ToUpper(*v))
		}
		return nil
	}).WithColumn("b", func(r Row) *string { return String("y") })

	require.Equal(t, []string{"a"}, in.Columns())
	require.Equal(t, "x", *in.Row(0).Get("a"))

	require.Equal(t, []string{"a", "b"}, out.Columns())
	require.Equal(t, "X", *out.Row(0).Get("a"))
	require.Nil(t, out.Row(1).Get("a"))
	require.Equal(t, "y", Deref(out.Row(1).Get("b")))
	require.Nil(t, out.Row(0).Get("missing"))
}

func TestNewTableErrors(t *testing.T) {
	_, err := NewTable([]string{"a", ""})
	require.ErrorContains(t, err, "column 1 has an empty name")

	_, err = NewTable([]string{"a", "a"})
	require.ErrorContains(t, err, `duplicate column "a"`)

	require.PanicsWithError(t, "row has 1 cells, table has 2 columns", func() {
		MustTable([]string{"a", "b"}, []*string{String("x")})
	})
}
