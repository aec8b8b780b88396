package extractor

import (
	"bytes"
	"regexp"
	"strconv"
	"sync"
)

// bulk_extractor reports progress as e.g.
// "12:00:01 Offset 67MB (12.05%) Done in 0:00:20 at 12:00:21".
var percentRe = regexp.MustCompile(`\((\d+(?:\.\d+)?)%\)`)

// ParsePercent extracts the progress percentage from one output line.
func ParsePercent(line string) (float64, bool) {
	m := percentRe.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil || pct < 0 || pct > 100 {
		return 0, false
	}
	return pct, true
}

// progressWriter splits tool output into lines and reports percentages.
type progressWriter struct {
	mu  sync.Mutex
	buf []byte
	fn  func(float64, string)
}

func newProgressWriter(fn func(float64, string)) *progressWriter {
	return &progressWriter{fn: fn}
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		w.emit(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

// Flush reports a trailing line without a terminator.
func (w *progressWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(string(w.buf))
		w.buf = nil
	}
}

func (w *progressWriter) emit(line string) {
	if pct, ok := ParsePercent(line); ok {
		w.fn(pct, line)
	}
}
