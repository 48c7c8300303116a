package trace

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrUnsupportedFamily is returned by Open for suites without a reader.
var ErrUnsupportedFamily = errors.New("unsupported trace family")

// Reader yields branches until io.EOF.
type Reader interface {
	Next() (Branch, error)
	Close() error
}

// Open opens the trace file of b below dir.
func Open(dir string, b Benchmark) (Reader, error) {
	switch b.Family {
	case FamilyStanford:
		f, err := os.Open(filepath.Join(dir, b.Name))
		if err != nil {
			return nil, fmt.Errorf("failed to open trace: %w", err)
		}
		return NewStanfordReader(f), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFamily, b.Family)
	}
}

// StanfordReader parses the Stanford text format, one branch per line:
//
//	<B|N><T|F|S|M|J> <address> <target>
//
// A leading 'B' marks a taken branch. T and F are conditional, S is a call
// and M a return.
type StanfordReader struct {
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
}

func NewStanfordReader(r io.Reader) *StanfordReader {
	sr := &StanfordReader{scanner: bufio.NewScanner(r)}
	if c, ok := r.(io.Closer); ok {
		sr.closer = c
	}
	return sr
}

func (r *StanfordReader) Next() (Branch, error) {
	for r.scanner.Scan() {
		r.line++
		text := strings.TrimSpace(r.scanner.Text())
		if text == "" {
			continue
		}
		return parseStanfordLine(text, r.line)
	}
	if err := r.scanner.Err(); err != nil {
		return Branch{}, err
	}
	return Branch{}, io.EOF
}

func (r *StanfordReader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func parseStanfordLine(text string, line int) (Branch, error) {
	fields := strings.Fields(text)
	if len(fields) < 3 || len(fields[0]) < 2 {
		return Branch{}, fmt.Errorf("line %d: malformed branch record %q", line, text)
	}

	address, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return Branch{}, fmt.Errorf("line %d: bad address: %w", line, err)
	}
	target, err := strconv.ParseUint(fields[2], 10, 32)
	if err != nil {
		return Branch{}, fmt.Errorf("line %d: bad target: %w", line, err)
	}

	b := Branch{
		Address: uint32(address),
		Target:  uint32(target),
		Taken:   fields[0][0] == 'B',
	}
	switch fields[0][1] {
	case 'T', 'F':
		b.Flags |= FlagConditional
	case 'S':
		b.Flags |= FlagCall
	case 'M':
		b.Flags |= FlagReturn
	}
	return b, nil
}
