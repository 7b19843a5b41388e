package link

import (
	"bytes"
	"context"
	"errors"
	"strings"
)

// errLineTooLong is returned once for each run of bytes that exceeded
// maxLine without a newline. The bytes are dropped up to the next newline.
var errLineTooLong = errors.New("line too long")

// lineReader splits a Port's byte stream into newline-terminated lines.
type lineReader struct {
	r          Port
	buf        []byte
	pending    []byte
	maxLine    int
	discarding bool
}

func newLineReader(r Port, maxLine int) *lineReader {
	if maxLine <= 0 {
		maxLine = 256
	}
	return &lineReader{
		r:       r,
		buf:     make([]byte, 512),
		maxLine: maxLine,
	}
}

// ReadLine returns the next line with surrounding whitespace and CR/LF
// removed. It keeps reading through empty timeouts until ctx is done.
func (l *lineReader) ReadLine(ctx context.Context) (string, error) {
	for {
		if i := bytes.IndexByte(l.pending, '\n'); i >= 0 {
			line := l.pending[:i]
			l.pending = l.pending[i+1:]
			if l.discarding {
				l.discarding = false
				continue
			}
			if i > l.maxLine {
				return "", errLineTooLong
			}
			return strings.TrimSpace(string(line)), nil
		}
		if len(l.pending) > l.maxLine {
			l.pending = l.pending[:0]
			if !l.discarding {
				l.discarding = true
				return "", errLineTooLong
			}
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, err := l.r.Read(l.buf)
		if n > 0 {
			l.pending = append(l.pending, l.buf[:n]...)
		}
		if err != nil {
			return "", err
		}
	}
}
