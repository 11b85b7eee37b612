package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
)

// DefaultMaxLineBytes bounds one bit-string line. A CAN 2.0A frame is at most
// 135 wire bits; the headroom covers whitespace and annotations.
const DefaultMaxLineBytes = 4096

// ReadLines scans r for newline-delimited bit strings and calls onLine for
// each one. Blank lines and lines starting with '#' are skipped. It returns
// nil at EOF, ctx.Err() when cancelled, and the first onLine error.
func ReadLines(ctx context.Context, r io.Reader, maxLineBytes int, onLine func(line []byte) error) error {
	if r == nil {
		return fmt.Errorf("reader is nil")
	}
	if onLine == nil {
		return fmt.Errorf("onLine is nil")
	}
	if maxLineBytes <= 0 {
		maxLineBytes = DefaultMaxLineBytes
	}

	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 0, min(256, maxLineBytes)), maxLineBytes)
	for s.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := bytes.TrimSpace(s.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		if err := onLine(append([]byte(nil), line...)); err != nil {
			return err
		}
	}
	if err := s.Err(); err != nil {
		return fmt.Errorf("read lines: %w", err)
	}
	return ctx.Err()
}
