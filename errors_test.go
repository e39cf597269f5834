package fatslack

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/aligator/fatslack/checkpoint"
)

func TestClassOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassUnknown},
		{"foreign error", io.EOF, ClassUnknown},
		{"parse sentinel", ErrInvalidSignature, ClassParse},
		{"io sentinel", ErrShortRead, ClassIO},
		{"logical sentinel", ErrCorruptChain, ClassLogical},
		{"class itself", ErrIO, ClassIO},
		{"checkpoint", checkpoint.Newf(ErrNotFound, "%s", "A.TXT"), ClassLogical},
		{"wrapped checkpoint", checkpoint.Wrap(checkpoint.From(ErrOutOfBounds), fmt.Errorf("could not read")), ClassIO},
		{"fmt wrapped", fmt.Errorf("context: %w", ErrInvalidJump), ClassParse},
		{"device error below a sentinel", checkpoint.Wrap(io.ErrUnexpectedEOF, ErrShortRead), ClassIO},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassOf(tt.err); got != tt.want {
				t.Errorf("ClassOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassError_Is(t *testing.T) {
	if !errors.Is(ErrCorruptChain, ErrLogical) || errors.Is(ErrCorruptChain, ErrParse) || errors.Is(ErrCorruptChain, ErrIO) {
		t.Error("ErrCorruptChain must only match ErrLogical")
	}
	if errors.Is(ErrCorruptChain, ErrDirectoryLoop) {
		t.Error("sentinels of the same class must not match each other")
	}
	if !errors.Is(checkpoint.Newf(ErrInvalidFATSize, "x"), ErrInvalidFATSize) {
		t.Error("a checkpoint must match its sentinel")
	}
}

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		c    ErrorClass
		want string
	}{
		{ClassUnknown, "error"},
		{ClassParse, "parse error"},
		{ClassIO, "i/o error"},
		{ClassLogical, "logical error"},
	}
	for _, tt := range tests {
		if got := tt.c.String(); got != tt.want {
			t.Errorf("ErrorClass.String() = %v, want %v", got, tt.want)
		}
	}
}
