package database

import (
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

type Result struct {
	Columns  []string
	Rows     [][]any
	Duration time.Duration
}

// Text serializes the result for a language model prompt. A single scalar is
// rendered bare; anything else becomes a plain-text table.
func (r Result) Text() string {
	if len(r.Rows) == 0 {
		return ""
	}
	if len(r.Columns) == 1 && len(r.Rows) == 1 {
		return formatValue(r.Rows[0][0])
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleDefault)
	t.Style().Format.Header = text.FormatDefault
	header := make(table.Row, len(r.Columns))
	for i, col := range r.Columns {
		header[i] = col
	}
	t.AppendHeader(header)
	for _, row := range r.Rows {
		out := make(table.Row, len(row))
		for i, value := range row {
			out[i] = formatValue(value)
		}
		t.AppendRow(out)
	}
	return t.Render()
}

func formatValue(value any) string {
	switch typed := value.(type) {
	case nil:
		return "NULL"
	case string:
		return typed
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(typed), 'f', -1, 32)
	case time.Time:
		return typed.Format(time.RFC3339)
	default:
		return fmt.Sprint(typed)
	}
}
