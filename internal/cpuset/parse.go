package cpuset

import (
	"fmt"
	"strconv"
)

// Parse reads the kernel's textual CPU list format: comma-separated single
// ids or lo-hi ranges, terminated by a newline or the end of the text.
// Indices at or beyond limit are ignored.
//
// Parsing is deliberately lenient: on the first malformed token it stops
// and returns the set built from the valid prefix, together with a non-nil
// error describing the anomaly. Callers decide whether that is fatal.
func Parse(text string, limit int) (*Set, error) {
	s := New()
	pos := 0
	for pos < len(text) && text[pos] != '\n' {
		lo, next, err := scanInt(text, pos)
		if err != nil {
			return s, err
		}
		pos = next
		hi := lo
		if pos < len(text) && text[pos] == '-' {
			hi, next, err = scanInt(text, pos+1)
			if err != nil {
				return s, err
			}
			pos = next
		}
		// A range with either end out of bounds marks nothing.
		if lo < limit && hi < limit {
			for c := lo; c <= hi; c++ {
				s.Add(c)
			}
		}
		if pos >= len(text) || text[pos] == '\n' {
			break
		}
		if text[pos] != ',' {
			return s, fmt.Errorf("cpu list: unexpected %q at offset %d", text[pos], pos)
		}
		pos++
	}
	return s, nil
}

func scanInt(text string, pos int) (int, int, error) {
	start := pos
	for pos < len(text) && text[pos] >= '0' && text[pos] <= '9' {
		pos++
	}
	if pos == start {
		return 0, pos, fmt.Errorf("cpu list: expected number at offset %d, remaining %q", start, text[start:])
	}
	n, err := strconv.Atoi(text[start:pos])
	if err != nil {
		return 0, pos, fmt.Errorf("cpu list: bad number %q: %w", text[start:pos], err)
	}
	return n, pos, nil
}
