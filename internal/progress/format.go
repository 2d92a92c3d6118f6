package progress

import "fmt"

var decimalPrefixes = []string{"", "k", "M", "G", "T", "P"}

// FormatRate renders bytes per second with decimal prefixes, the way rsync
// prints rates by default.
func FormatRate(rate float64) string {
	return FormatBytes(rate) + "/s"
}

func FormatBytes(value float64) string {
	i := 0
	for value >= 1000 && i < len(decimalPrefixes)-1 {
		value /= 1000
		i++
	}
	if i == 0 {
		return fmt.Sprintf("%.0fB", value)
	}
	return fmt.Sprintf("%.2f%sB", value, decimalPrefixes[i])
}
