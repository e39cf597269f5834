// Package checkpoint decorates errors with the file and line they passed through, which
// gives a small trace when an error travels from the sector level up to a CLI.
// A sentinel attached to a checkpoint stays visible to errors.Is and errors.As.
package checkpoint

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"
)

// From wraps err in a checkpoint carrying the caller location.
// It returns nil if err == nil.
func From(err error) error {
	// io.EOF must stay comparable with ==
	// https://github.com/golang/go/issues/39155
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return err
	}

	if err == nil {
		return nil
	}

	return newCheckpoint(err, nil)
}

// Wrap records a checkpoint for prev and attaches err as its description.
// Returns nil if prev == nil, so it can be used directly on a call result:
//  data, err := img.ReadAt(buf, off)
//  return checkpoint.Wrap(err, ErrShortRead)
// Both prev and err stay reachable through errors.Is.
func Wrap(prev, err error) error {
	if prev == io.EOF {
		return io.EOF
	}

	if prev == nil {
		return nil
	}

	return newCheckpoint(err, prev)
}

// Newf creates a checkpoint for the sentinel target with some formatted detail.
// errors.Is(Newf(ErrX, ...), ErrX) is always true.
func Newf(target error, format string, args ...interface{}) error {
	return newCheckpoint(fmt.Errorf("%w: "+format, append([]interface{}{target}, args...)...), nil)
}

func newCheckpoint(err, prev error) *checkpoint {
	// Skip newCheckpoint and the exported helper.
	_, file, line, ok := runtime.Caller(2)

	return &checkpoint{
		err:  err,
		prev: prev,

		callerOk: ok,
		file:     filepath.Base(file),
		line:     line,
	}
}

type checkpoint struct {
	err  error
	prev error

	callerOk bool
	file     string
	line     int
}

func (e *checkpoint) location() string {
	if e.callerOk {
		return fmt.Sprintf("%s:%d", e.file, e.line)
	}
	return "unknown"
}

func (e *checkpoint) Error() string {
	if e.prev == nil {
		return fmt.Sprintf("File: %s\n\t%v", e.location(), e.err)
	}

	prevErrString := e.prev.Error()
	if _, ok := e.prev.(*checkpoint); !ok {
		prevErrString = "File: unknown\n\t" + strings.ReplaceAll(prevErrString, "\n", "\n\t")
	}

	return fmt.Sprintf("File: %s\n\t%v\n%v", e.location(), e.err, prevErrString)
}

func (e *checkpoint) Unwrap() error {
	return e.prev
}

func (e *checkpoint) Is(target error) bool {
	return errors.Is(e.err, target)
}

func (e *checkpoint) As(target interface{}) bool {
	return errors.As(e.err, target)
}

// Message returns only the descriptions of all checkpoints in the chain joined by ": ",
// without any location information. Useful for one-line console output.
func Message(err error) string {
	var parts []string
	for err != nil {
		c, ok := err.(*checkpoint)
		if !ok {
			parts = append(parts, err.Error())
			break
		}
		if c.err != nil {
			parts = append(parts, c.err.Error())
		}
		err = c.prev
	}
	return strings.Join(parts, ": ")
}
