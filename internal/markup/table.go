package markup

import (
	"strings"
)

func isTableRow(line string) bool {
	if !strings.Contains(line, "|") {
		return false
	}
	return dashRunRe.MatchString(line) || pipeRowRe.MatchString(line)
}

func isSeparatorRow(line string) bool {
	if !strings.Contains(line, "-") {
		return false
	}
	rest := strings.Map(func(r rune) rune {
		switch r {
		case '|', '-', ':', ' ', '\t':
			return -1
		}
		return r
	}, line)
	return rest == ""
}

// splitCells splits a row on pipes, dropping the empty fragments produced
// by the outer pipes.
func splitCells(line string) []string {
	parts := strings.Split(strings.TrimSpace(line), "|")
	if len(parts) > 0 && strings.TrimSpace(parts[0]) == "" {
		parts = parts[1:]
	}
	if len(parts) > 0 && strings.TrimSpace(parts[len(parts)-1]) == "" {
		parts = parts[:len(parts)-1]
	}
	cells := make([]string, len(parts))
	for i, p := range parts {
		cells[i] = strings.TrimSpace(p)
	}
	return cells
}

// extractTables replaces every run of table rows with a placeholder line and
// returns the rendered tables in placeholder order.
func extractTables(text string) (string, []string) {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	var tables []string
	var block []string

	flush := func() {
		if len(block) == 0 {
			return
		}
		if rendered := renderTable(block); rendered != "" {
			out = append(out, placeholder(len(tables)))
			tables = append(tables, rendered)
		}
		block = nil
	}

	for _, line := range lines {
		if isTableRow(line) {
			block = append(block, line)
			continue
		}
		flush()
		out = append(out, line)
	}
	flush()

	return strings.Join(out, "\n"), tables
}

func renderTable(rows []string) string {
	var header []string
	var body [][]string
	for _, row := range rows {
		if isSeparatorRow(row) {
			continue
		}
		if header == nil {
			header = splitCells(row)
			continue
		}
		body = append(body, splitCells(row))
	}
	if header == nil {
		return ""
	}

	var b strings.Builder
	b.WriteString(`<div class="douly-table" style="overflow-x:auto"><table>`)
	b.WriteString("<thead><tr>")
	for _, cell := range header {
		b.WriteString("<th>")
		b.WriteString(applyEmphasis(cell))
		b.WriteString("</th>")
	}
	b.WriteString("</tr></thead><tbody>")
	for _, row := range body {
		b.WriteString("<tr>")
		for _, cell := range row {
			b.WriteString("<td>")
			b.WriteString(applyEmphasis(cell))
			b.WriteString("</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table></div>")
	return b.String()
}
