package sheets

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// A1 Range Helpers
// =============================================================================

// ColumnLetter converts a zero-based column index to its A1 letter.
// 0 → "A", 25 → "Z", 26 → "AA".
func ColumnLetter(index int) string {
	letter := ""
	n := index
	for n >= 0 {
		letter = string(rune('A'+n%26)) + letter
		n = n/26 - 1
	}
	return letter
}

// RowRange builds an A1 range covering one row across a span of columns
func RowRange(sheetName string, firstCol, lastCol string, row int) string {
	return fmt.Sprintf("%s!%s%d:%s%d", sheetName, firstCol, row, lastCol, row)
}

// ParseRowNumber extracts the first row number from an A1 range like
// "Sheet1!A5:D5". Returns 0 when the range carries no row.
func ParseRowNumber(a1Range string) int {
	if idx := strings.IndexByte(a1Range, '!'); idx >= 0 {
		a1Range = a1Range[idx+1:]
	}
	if idx := strings.IndexByte(a1Range, ':'); idx >= 0 {
		a1Range = a1Range[:idx]
	}

	start := 0
	for start < len(a1Range) && !isDigit(a1Range[start]) {
		start++
	}
	if start == len(a1Range) {
		return 0
	}

	row, err := strconv.Atoi(a1Range[start:])
	if err != nil {
		return 0
	}
	return row
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}
