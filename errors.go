package fatslack

import (
	"errors"
)

// ErrorClass groups errors by what went wrong so callers can render them differently.
type ErrorClass int

const (
	// ClassUnknown is used for errors which do not originate from this package.
	ClassUnknown ErrorClass = iota
	// ClassParse marks on-disk metadata which could not be accepted.
	ClassParse
	// ClassIO marks failed or out of bounds reads and writes.
	ClassIO
	// ClassLogical marks inconsistent filesystem state or requests which cannot be served.
	ClassLogical
)

func (c ErrorClass) String() string {
	switch c {
	case ClassParse:
		return "parse error"
	case ClassIO:
		return "i/o error"
	case ClassLogical:
		return "logical error"
	default:
		return "error"
	}
}

// These errors can be used with errors.Is to match a whole class.
var (
	ErrParse   = errors.New("parse error")
	ErrIO      = errors.New("i/o error")
	ErrLogical = errors.New("logical error")
)

// Parse errors.
var (
	ErrInvalidSignature         = newClassError(ClassParse, "invalid MBR signature")
	ErrOverlappingPartitions    = newClassError(ClassParse, "partition entries overlap")
	ErrInvalidBytesPerSector    = newClassError(ClassParse, "invalid bytes per sector")
	ErrInvalidSectorsPerCluster = newClassError(ClassParse, "invalid sectors per cluster")
	ErrInvalidReservedSectors   = newClassError(ClassParse, "invalid reserved sector count")
	ErrInvalidFATCount          = newClassError(ClassParse, "invalid number of FATs")
	ErrInvalidFATSize           = newClassError(ClassParse, "invalid FAT size")
	ErrInvalidTotalSectors      = newClassError(ClassParse, "invalid total sector count")
	ErrInvalidRootCluster       = newClassError(ClassParse, "invalid root directory cluster")
	ErrInvalidJump              = newClassError(ClassParse, "no valid jump instruction at the beginning")
	ErrInvalidBootSignature     = newClassError(ClassParse, "invalid boot sector signature")
	ErrInvalidRootEntryCount    = newClassError(ClassParse, "root entry count must be 0 for FAT32")
	ErrInvalidLegacyField       = newClassError(ClassParse, "16-bit field must be 0 for FAT32")
)

// I/O errors.
var (
	ErrOutOfBounds = newClassError(ClassIO, "access out of bounds")
	ErrShortRead   = newClassError(ClassIO, "short read")
	ErrShortWrite  = newClassError(ClassIO, "short write")
)

// Logical errors.
var (
	ErrCorruptChain       = newClassError(ClassLogical, "corrupt cluster chain")
	ErrInvalidCluster     = newClassError(ClassLogical, "cluster out of range")
	ErrNoFreeCluster      = newClassError(ClassLogical, "no free cluster left")
	ErrPayloadTooLarge    = newClassError(ClassLogical, "payload exceeds region capacity")
	ErrUnsupportedLFN     = newClassError(ClassLogical, "long file name records are not supported")
	ErrTreeTooDeep        = newClassError(ClassLogical, "directory tree exceeds the maximum depth")
	ErrDirectoryLoop      = newClassError(ClassLogical, "directory cluster referenced more than once")
	ErrNoPartition        = newClassError(ClassLogical, "no used partition")
	ErrUnusedPartition    = newClassError(ClassLogical, "partition entry is not used")
	ErrNoAllocatedCluster = newClassError(ClassLogical, "entry has no allocated cluster")
	ErrNotBadCluster      = newClassError(ClassLogical, "cluster is not marked bad")
	ErrNotFound           = newClassError(ClassLogical, "no such file or directory")
	ErrUnknownRegionKind  = newClassError(ClassLogical, "unknown region kind")
	ErrNoSuchPartition    = newClassError(ClassLogical, "no such partition table slot")
)

type classError struct {
	class ErrorClass
	msg   string
}

func newClassError(class ErrorClass, msg string) error {
	return &classError{class: class, msg: msg}
}

func (e *classError) Error() string {
	return e.msg
}

// Is makes every sentinel match its class error.
func (e *classError) Is(target error) bool {
	switch target {
	case ErrParse:
		return e.class == ClassParse
	case ErrIO:
		return e.class == ClassIO
	case ErrLogical:
		return e.class == ClassLogical
	}
	return false
}

// ClassOf reports the class of the first sentinel of this package found in err.
func ClassOf(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassUnknown
	case errors.Is(err, ErrParse):
		return ClassParse
	case errors.Is(err, ErrIO):
		return ClassIO
	case errors.Is(err, ErrLogical):
		return ClassLogical
	}
	return ClassUnknown
}
