package xray

import (
	"fmt"
	"strings"
)

// FormatProbability prints a percentage with two decimals: 87.3 -> "87.30%".
func FormatProbability(p float64) string {
	return fmt.Sprintf("%.2f%%", p)
}

// FormatPredictions рендерит таблицу в порядке, пришедшем от бэкенда; первая строка
// помечается как топ. Пересортировки нет.
func FormatPredictions(preds []Prediction) string {
	if len(preds) == 0 {
		return "(no predictions)"
	}
	var b strings.Builder
	for i, p := range preds {
		if i == 0 {
			b.WriteString("🏆 ")
		} else {
			b.WriteString("   ")
		}
		fmt.Fprintf(&b, "%s — %s\n", p.Class, FormatProbability(p.Probability))
	}
	return strings.TrimRight(b.String(), "\n")
}
