package telemetry

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrFieldCount means the line did not split into the protocol's field count.
	ErrFieldCount = errors.New("field count mismatch")
	// ErrLineLength means the line failed the protocol's length pre-filter.
	ErrLineLength = errors.New("line length mismatch")
	// ErrNotInteger means a token is not a base-10 integer.
	ErrNotInteger = errors.New("token is not an integer")
)

// DecodeError describes why a line was rejected.
type DecodeError struct {
	Line  string
	Field int // offending token offset, -1 for whole-line checks
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Field >= 0 {
		return fmt.Sprintf("decode %q: field %d: %v", e.Line, e.Field, e.Err)
	}
	return fmt.Sprintf("decode %q: %v", e.Line, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// IsFraming reports whether err is a shape check failure (field count or
// line length) rather than a bad token.
func IsFraming(err error) bool {
	return errors.Is(err, ErrFieldCount) || errors.Is(err, ErrLineLength)
}

// Decode turns one line into a Record. It never returns a partial record.
func (p *Protocol) Decode(line string) (Record, error) {
	if p.LineLength > 0 && len(line) != p.LineLength {
		return Record{}, &DecodeError{
			Line:  line,
			Field: -1,
			Err:   fmt.Errorf("%w: got %d chars, want %d", ErrLineLength, len(line), p.LineLength),
		}
	}

	tokens := strings.Split(line, ",")
	if len(tokens) != len(p.Fields) {
		return Record{}, &DecodeError{
			Line:  line,
			Field: -1,
			Err:   fmt.Errorf("%w: got %d, want %d", ErrFieldCount, len(tokens), len(p.Fields)),
		}
	}

	raw := make([]int64, len(tokens))
	for i, tok := range tokens {
		n, err := strconv.ParseInt(strings.TrimSpace(tok), 10, 64)
		if err != nil {
			return Record{}, &DecodeError{Line: line, Field: i, Err: fmt.Errorf("%w: %q", ErrNotInteger, tok)}
		}
		raw[i] = n
	}

	var rec Record
	for _, f := range p.Fields {
		v := float64(raw[f.Offset])
		if f.Scale != 0 && f.Scale != 1 {
			v /= f.Scale
		}
		rec.set(f.Channel, raw[f.Offset], f.Convert.apply(v))
	}
	rec.FuelBurnedGal = roundTo(float64(rec.FuelOpenTimeMs)*FuelConstant, 3)
	return rec, nil
}
