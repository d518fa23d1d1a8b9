package mcp

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// report accumulates the markdown returned by the tools: "##" sections of
// aligned key/value rows.
type report struct {
	b strings.Builder
}

func (r *report) section(title string) *report {
	if r.b.Len() > 0 {
		r.b.WriteString("\n\n")
	}
	r.b.WriteString("## " + title)
	return r
}

func (r *report) subsection(title string) *report {
	r.b.WriteString("\n\n### " + title)
	return r
}

// row adds an aligned "key: value" line. Empty string values are skipped.
func (r *report) row(key string, value any) *report {
	if s, ok := value.(string); ok && s == "" {
		return r
	}
	fmt.Fprintf(&r.b, "\n%-20s %v", key+":", value)
	return r
}

func (r *report) line(s string) *report {
	r.b.WriteString("\n" + s)
	return r
}

func (r *report) String() string {
	return r.b.String()
}

// formatCount renders a transaction or block count with thousands separators.
func formatCount(v float64) string {
	if v != math.Trunc(v) {
		return strconv.FormatFloat(v, 'f', 1, 64)
	}
	s := strconv.FormatInt(int64(math.Abs(v)), 10)
	var out strings.Builder
	if v < 0 {
		out.WriteByte('-')
	}
	for i, c := range s {
		if i > 0 && (len(s)-i)%3 == 0 {
			out.WriteByte(',')
		}
		out.WriteRune(c)
	}
	return out.String()
}

// formatShare renders part of a whole, e.g. "50 of 1,000 (5.0%)".
func formatShare(part, whole float64) string {
	if whole <= 0 {
		return fmt.Sprintf("%s of %s", formatCount(part), formatCount(whole))
	}
	return fmt.Sprintf("%s of %s (%.1f%%)", formatCount(part), formatCount(whole), part/whole*100)
}

// formatTPS renders a measured or target rate.
func formatTPS(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64) + " tx/s"
}

// formatLatency renders a latency in milliseconds, switching to seconds at 1s.
func formatLatency(ms float64) string {
	if ms < 1000 {
		return strconv.FormatFloat(ms, 'f', 1, 64) + "ms"
	}
	return strconv.FormatFloat(ms/1000, 'f', 2, 64) + "s"
}

// formatPercentiles renders the p50/p95/p99 finalization latencies.
func formatPercentiles(lat map[string]any) string {
	return fmt.Sprintf("p50 %s, p95 %s, p99 %s",
		formatLatency(getNum(lat, "p50")),
		formatLatency(getNum(lat, "p95")),
		formatLatency(getNum(lat, "p99")))
}

// formatElapsed renders a wall-clock duration given in milliseconds.
func formatElapsed(ms float64) string {
	return (time.Duration(ms) * time.Millisecond).Round(100 * time.Millisecond).String()
}

func formatTime(s string) string {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return s
	}
	return t.Format("2006-01-02 15:04:05")
}
