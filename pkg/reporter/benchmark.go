package reporter

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/vyvo/buildmaster/pkg/builds"
)

// ResultLog is the log name builders use for machine-readable output.
const ResultLog = "result"

var benchmarkColumns = []string{"benchmark", "baseline", "contender", "change"}

// NewBenchmarkFormatter renders successful benchmark runs as a diff table
// built from the jsonlines in the result log. Regressions are marked "-".
func NewBenchmarkFormatter(layout string) (*CommentFormatter, error) {
	return NewCommentFormatter(layout, benchmarkContext)
}

func benchmarkContext(r builds.Result) (string, error) {
	if r.Status != builds.StatusSuccess {
		return "", nil
	}
	lines, ok := r.Logs[ResultLog]
	if !ok {
		return "", nil
	}
	table, err := RenderBenchmarkTable(lines)
	if err != nil {
		return "", err
	}
	return "```diff\n" + table + "\n```", nil
}

// RenderBenchmarkTable renders jsonlines benchmark rows as a table with a
// diff marker column.
func RenderBenchmarkTable(jsonlines []string) (string, error) {
	var (
		cells      [][]string
		regression []bool
	)
	numeric := make([]bool, len(benchmarkColumns))
	for i := range numeric {
		numeric[i] = true
	}

	for n, line := range jsonlines {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var row map[string]any
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return "", fmt.Errorf("decode benchmark row %d: %w", n+1, err)
		}
		out := make([]string, len(benchmarkColumns))
		for i, col := range benchmarkColumns {
			s, isNum := cellString(row[col])
			out[i] = s
			if !isNum {
				numeric[i] = false
			}
		}
		cells = append(cells, out)
		reg, _ := row["regression"].(bool)
		regression = append(regression, reg)
	}
	if len(cells) == 0 {
		// Header-only columns are left aligned.
		for i := range numeric {
			numeric[i] = false
		}
	}

	widths := make([]int, len(benchmarkColumns))
	for i, col := range benchmarkColumns {
		widths[i] = runewidth.StringWidth(col)
		for _, row := range cells {
			if w := runewidth.StringWidth(row[i]); w > widths[i] {
				widths[i] = w
			}
		}
	}

	border := make([]string, len(widths))
	for i, w := range widths {
		border[i] = strings.Repeat("=", w)
	}
	rule := strings.Join(border, "  ")

	lines := []string{
		mark(false, rule),
		mark(false, formatRow(benchmarkColumns, widths, numeric)),
		mark(false, rule),
	}
	for i, row := range cells {
		lines = append(lines, mark(regression[i], formatRow(row, widths, numeric)))
	}
	lines = append(lines, mark(false, rule))
	return strings.Join(lines, "\n"), nil
}

func mark(regression bool, line string) string {
	if regression {
		return "- " + line
	}
	return "  " + line
}

func formatRow(values []string, widths []int, rightAlign []bool) string {
	parts := make([]string, len(values))
	for i, v := range values {
		if rightAlign[i] {
			parts[i] = runewidth.FillLeft(v, widths[i])
		} else {
			parts[i] = runewidth.FillRight(v, widths[i])
		}
	}
	return strings.TrimRight(strings.Join(parts, "  "), " ")
}

func cellString(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case string:
		return val, false
	default:
		return fmt.Sprint(val), false
	}
}
