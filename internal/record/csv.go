package record

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"strings"

	"github.com/pkg/errors"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// ReadCSV parses a CSV document with a header row into a Table.
//
// Empty cells are read as null. Rows shorter than the header are padded
// with nulls and extra cells are dropped, so a ragged file still loads.
func ReadCSV(r io.Reader) (*Table, error) {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = br.Discard(len(byteOrderMark))
	}

	reader := csv.NewReader(br)
	reader.FieldsPerRecord = -1 // Allow variable number of fields

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.New("csv has no header row")
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read csv header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	table, err := NewTable(header)
	if err != nil {
		return nil, errors.Wrap(err, "invalid csv header")
	}

	for {
		fields, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrapf(err, "error reading csv row %d", table.Len()+1)
		}

		// Skip empty rows
		if len(fields) == 0 || (len(fields) == 1 && fields[0] == "") {
			continue
		}

		cells := make([]*string, len(header))
		for i := 0; i < len(header) && i < len(fields); i++ {
			if fields[i] != "" {
				cells[i] = String(fields[i])
			}
		}
		table.rows = append(table.rows, cells)
	}

	return table, nil
}
