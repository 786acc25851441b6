package clifmt

import (
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

const (
	fallbackTableWidth = 100
	minDetailWidth     = 36
	fieldSeparator     = "  "
)

// ListRow is one entity in a listing: its name plus a detail string of
// double-space separated key=value fields.
type ListRow struct {
	Name   string
	Detail string
}

type ListTableOptions struct {
	Title        string
	Rows         []ListRow
	EmptyText    string
	NameHeader   string
	DetailHeader string
}

// PrintListTable renders rows as a two-column table sized to the
// terminal. Details wrap on field boundaries, so a key=value pair is
// never split across lines; continuation lines indent under the detail
// column.
func PrintListTable(out io.Writer, opts ListTableOptions) {
	if out == nil {
		out = os.Stdout
	}

	if title := strings.TrimSpace(opts.Title); title != "" {
		fmt.Fprintln(out, Headerf("%s (%d)", title, len(opts.Rows)))
	}
	if len(opts.Rows) == 0 {
		empty := strings.TrimSpace(opts.EmptyText)
		if empty == "" {
			empty = "Nothing to list."
		}
		fmt.Fprintln(out, Warn(empty))
		return
	}

	nameHeader := strings.TrimSpace(opts.NameHeader)
	if nameHeader == "" {
		nameHeader = "NAME"
	}
	detailHeader := strings.TrimSpace(opts.DetailHeader)
	if detailHeader == "" {
		detailHeader = "DETAILS"
	}

	nameWidth := utf8.RuneCountInString(nameHeader)
	for _, row := range opts.Rows {
		if w := utf8.RuneCountInString(row.Name); w > nameWidth {
			nameWidth = w
		}
	}
	detailWidth := detailColumnWidth(out, nameWidth)

	fmt.Fprintf(out, "%s%s%s\n", Key(padName(nameHeader, nameWidth)), fieldSeparator, Key(detailHeader))
	fmt.Fprintf(out, "%s%s%s\n", Dim(strings.Repeat("-", nameWidth)), fieldSeparator, Dim(strings.Repeat("-", detailWidth)))

	indent := strings.Repeat(" ", nameWidth)
	for _, row := range opts.Rows {
		lines := wrapFields(row.Detail, detailWidth)
		fmt.Fprintf(out, "%s%s%s\n", Success(padName(row.Name, nameWidth)), fieldSeparator, lines[0])
		for _, line := range lines[1:] {
			fmt.Fprintf(out, "%s%s%s\n", indent, fieldSeparator, line)
		}
	}
}

// detailColumnWidth sizes the detail column from the terminal when out
// is one, falling back to a fixed width for pipes and files.
func detailColumnWidth(out io.Writer, nameWidth int) int {
	width := fallbackTableWidth
	if file, ok := out.(*os.File); ok && term.IsTerminal(int(file.Fd())) {
		if termWidth, _, err := term.GetSize(int(file.Fd())); err == nil && termWidth > 0 {
			width = termWidth
		}
	}
	detailWidth := width - nameWidth - utf8.RuneCountInString(fieldSeparator)
	if detailWidth < minDetailWidth {
		detailWidth = minDetailWidth
	}
	return detailWidth
}

func padName(s string, width int) string {
	missing := width - utf8.RuneCountInString(s)
	if missing <= 0 {
		return s
	}
	return s + strings.Repeat(" ", missing)
}

// wrapFields breaks a detail string into lines no wider than width,
// splitting only between fields. A single field wider than the column
// (a long status note, say) is chunked by runes as a last resort.
func wrapFields(detail string, width int) []string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return []string{Dim("-")}
	}

	var lines []string
	current := ""
	flush := func() {
		if current != "" {
			lines = append(lines, current)
			current = ""
		}
	}

	for _, field := range strings.Split(detail, fieldSeparator) {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		for utf8.RuneCountInString(field) > width {
			flush()
			runes := []rune(field)
			lines = append(lines, string(runes[:width]))
			field = string(runes[width:])
		}
		switch {
		case current == "":
			current = field
		case utf8.RuneCountInString(current)+len(fieldSeparator)+utf8.RuneCountInString(field) <= width:
			current += fieldSeparator + field
		default:
			flush()
			current = field
		}
	}
	flush()

	if len(lines) == 0 {
		return []string{Dim("-")}
	}
	return lines
}
