package util

import (
	"fmt"
	"math/bits"
	"time"
)

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB", "PB", "EB"}

// FormatSize renders a byte count with a binary unit and at most two
// decimals, trailing zeros dropped.
func FormatSize(size int64) string {
	if size < 0 {
		return "-" + FormatSize(-size)
	}
	if size < 1024 {
		return fmt.Sprintf("%d B", size)
	}
	exp := (63 - bits.LeadingZeros64(uint64(size))) / 10
	div := int64(1) << (10 * exp)
	whole := size / div
	hi, lo := bits.Mul64(uint64(size%div), 100)
	q, _ := bits.Div64(hi, lo, uint64(div))
	hundredths := int64(q)

	switch {
	case hundredths == 0:
		return fmt.Sprintf("%d %s", whole, sizeUnits[exp])
	case hundredths%10 == 0:
		return fmt.Sprintf("%d.%d %s", whole, hundredths/10, sizeUnits[exp])
	default:
		return fmt.Sprintf("%d.%02d %s", whole, hundredths, sizeUnits[exp])
	}
}

// FormatRate renders bytes per second.
func FormatRate(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "-"
	}
	return FormatSize(int64(bytesPerSecond)) + "/s"
}

// FormatETA renders a remaining duration rounded to the second.
func FormatETA(d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	return d.Round(time.Second).String()
}
