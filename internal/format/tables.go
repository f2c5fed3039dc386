package format

import (
	"regexp"
	"strings"
)

var (
	tableRowRe       = regexp.MustCompile(`^\s*\|.*\|\s*$`)
	tableSeparatorRe = regexp.MustCompile(`^\s*\|[-:\s|]+\|\s*$`)
	cellBoldRe       = regexp.MustCompile(`\*\*(.+?)\*\*`)
)

// convertTables rewrites markdown tables as structured lists. Slack has no
// table support, and code blocks break badly on narrow screens, so tables
// become key/value lists that reflow naturally. Converted output is passed
// through protect so later inline rewrites leave it alone.
func convertTables(text string, protect func(string) string) string {
	lines := strings.Split(text, "\n")
	var result []string
	var tableLines []string
	inTable := false

	flush := func() {
		if !inTable {
			return
		}
		result = append(result, protect(renderTableAsList(tableLines)))
		tableLines = nil
		inTable = false
	}

	for _, line := range lines {
		if tableRowRe.MatchString(line) {
			if !inTable {
				inTable = true
				tableLines = nil
			}
			if !tableSeparatorRe.MatchString(line) {
				tableLines = append(tableLines, line)
			}
			continue
		}
		flush()
		result = append(result, line)
	}
	flush()

	return strings.Join(result, "\n")
}

// cleanCell strips markdown bold from cell text.
func cleanCell(text string) string {
	return strings.TrimSpace(cellBoldRe.ReplaceAllString(text, "$1"))
}

func parseRow(row string) []string {
	row = strings.TrimSpace(row)
	row = strings.TrimPrefix(row, "|")
	row = strings.TrimSuffix(row, "|")
	parts := strings.Split(row, "|")
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(p)
	}
	return cells
}

// renderTableAsList renders collected table rows (separator already removed)
// as a list. Two-column tables become "*Key:* Value" lines; wider tables get
// a bold row label followed by indented header/value pairs.
func renderTableAsList(rows []string) string {
	parsed := make([][]string, 0, len(rows))
	for _, row := range rows {
		parsed = append(parsed, parseRow(row))
	}
	if len(parsed) == 0 {
		return ""
	}

	headers := parsed[0]
	dataRows := parsed[1:]

	if len(dataRows) == 0 {
		labels := make([]string, len(headers))
		for i, h := range headers {
			labels[i] = "*" + cleanCell(h) + "*"
		}
		return strings.Join(labels, "  ")
	}

	if len(headers) == 2 {
		var lines []string
		for _, row := range dataRows {
			key, val := "", ""
			if len(row) > 0 {
				key = cleanCell(row[0])
			}
			if len(row) > 1 {
				val = row[1]
			}
			lines = append(lines, "*"+key+":* "+val)
		}
		return strings.Join(lines, "\n")
	}

	var lines []string
	for _, row := range dataRows {
		label := ""
		if len(row) > 0 {
			label = cleanCell(row[0])
		}
		lines = append(lines, "*"+label+"*")
		for col := 1; col < len(headers); col++ {
			value := ""
			if col < len(row) {
				value = row[col]
			}
			lines = append(lines, "  "+cleanCell(headers[col])+": "+value)
		}
		lines = append(lines, "")
	}
	return strings.TrimRight(strings.Join(lines, "\n"), "\n")
}
