/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package probe

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// MaxCellWidth is the width at which cell values are truncated.
const MaxCellWidth = 60

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

// NoRecordsMessage returns the line printed for an empty result.
func NoRecordsMessage(table string) string {
	return "No records found in " + table
}

// Render writes res to w as a table, a count line or the no-records message.
func Render(w io.Writer, res *Result) error {
	if res.Empty() {
		_, err := fmt.Fprintln(w, NoRecordsMessage(res.Table))
		return err
	}
	if res.Total >= 0 {
		_, err := fmt.Fprintf(w, "%s: %d record(s)\n", res.Table, res.Total)
		return err
	}

	rows := make([][]string, 0, len(res.Rows))
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, cell := range row {
			cells[i] = truncate(cell, MaxCellWidth)
		}
		rows = append(rows, cells)
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(res.Columns...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
	if _, err := fmt.Fprintln(w, t.String()); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d record(s) from %s\n", len(res.Rows), res.Table)
	return err
}

func truncate(s string, maxWidth int) string {
	s = strings.NewReplacer("\r\n", " ", "\n", " ", "\t", " ").Replace(s)
	if utf8.RuneCountInString(s) <= maxWidth {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxWidth-3]) + "..."
}
