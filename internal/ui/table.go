package ui

import (
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

type Align int

const (
	AlignLeft Align = iota
	AlignRight
)

type Column struct {
	Header   string
	Align    Align
	MaxWidth int // 0 means unlimited; longer cells are cut in the middle
}

// Table renders plain aligned columns, `docker images` style.
type Table struct {
	columns []Column
	rows    [][]string
}

func NewTable(columns ...Column) *Table {
	return &Table{columns: columns}
}

func (t *Table) AddRow(cells ...string) {
	row := make([]string, len(t.columns))
	for i := range row {
		if i < len(cells) {
			row[i] = truncateMiddle(cells[i], t.columns[i].MaxWidth)
		}
	}
	t.rows = append(t.rows, row)
}

func (t *Table) Len() int { return len(t.rows) }

func (t *Table) Render(w io.Writer) error {
	widths := make([]int, len(t.columns))
	for i, c := range t.columns {
		widths[i] = lipgloss.Width(c.Header)
	}
	for _, row := range t.rows {
		for i, cell := range row {
			widths[i] = max(widths[i], lipgloss.Width(cell))
		}
	}

	header := make([]string, len(t.columns))
	for i, c := range t.columns {
		header[i] = c.Header
	}

	var b strings.Builder
	t.writeRow(&b, header, widths)
	for _, row := range t.rows {
		t.writeRow(&b, row, widths)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func (t *Table) writeRow(b *strings.Builder, cells []string, widths []int) {
	for i, cell := range cells {
		pad := strings.Repeat(" ", widths[i]-lipgloss.Width(cell))
		if t.columns[i].Align == AlignRight {
			cell = pad + cell
		} else if i < len(cells)-1 {
			cell += pad
		}
		b.WriteString(cell)
		if i < len(cells)-1 {
			b.WriteString("   ")
		}
	}
	b.WriteString("\n")
}

func truncateMiddle(s string, maxWidth int) string {
	r := []rune(s)
	if maxWidth <= 0 || len(r) <= maxWidth {
		return s
	}
	if maxWidth < 3 {
		return string(r[:maxWidth])
	}
	keep := maxWidth - 1
	left := keep / 2
	return string(r[:left]) + "…" + string(r[len(r)-(keep-left):])
}
