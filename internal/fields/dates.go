package fields

import (
	"fmt"
	"strconv"
)

// months maps accent-folded Portuguese month names to their number.
var months = map[string]int{
	"janeiro":   1,
	"fevereiro": 2,
	"marco":     3,
	"abril":     4,
	"maio":      5,
	"junho":     6,
	"julho":     7,
	"agosto":    8,
	"setembro":  9,
	"outubro":   10,
	"novembro":  11,
	"dezembro":  12,
}

// formatDate renders day/month-name/year as DD/MM/YYYY. It reports false for
// an unknown month name or an out-of-range day.
func formatDate(day, month, year string) (string, bool) {
	m, ok := months[month]
	if !ok {
		return "", false
	}
	d, err := strconv.Atoi(day)
	if err != nil || d < 1 || d > 31 {
		return "", false
	}
	return fmt.Sprintf("%02d/%02d/%s", d, m, year), true
}
