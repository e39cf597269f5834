package fatslack

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/aligator/fatslack/checkpoint"
	"github.com/sirupsen/logrus"
)

// Attr is the attribute byte of a directory record.
type Attr byte

const (
	AttrReadOnly  Attr = 0x01
	AttrHidden    Attr = 0x02
	AttrSystem    Attr = 0x04
	AttrVolumeID  Attr = 0x08
	AttrDirectory Attr = 0x10
	AttrArchive   Attr = 0x20

	attrLongName     Attr = 0x0F
	attrLongNameMask Attr = 0x3F
	attrReservedMask Attr = 0xC0
)

const (
	entryEnd        = 0x00
	entryDeleted    = 0xE5
	entryKanjiE5    = 0x05
	shortNameLength = 11
)

// Has reports whether all bits of f are set.
func (a Attr) Has(f Attr) bool {
	return a&f == f
}

func (a Attr) String() string {
	flags := []struct {
		attr Attr
		c    byte
	}{
		{AttrReadOnly, 'R'},
		{AttrHidden, 'H'},
		{AttrSystem, 'S'},
		{AttrVolumeID, 'V'},
		{AttrDirectory, 'D'},
		{AttrArchive, 'A'},
	}

	b := make([]byte, len(flags))
	for i, f := range flags {
		b[i] = '-'
		if a.Has(f.attr) {
			b[i] = f.c
		}
	}
	return string(b)
}

// DirEntry is a short name (8.3) directory record.
type DirEntry struct {
	Name         string
	Attr         Attr
	FirstCluster uint32
	Size         uint32
	ModTime      time.Time

	// Offset is the volume relative byte offset of the 32 byte record.
	Offset int64
}

// IsDir reports whether the entry is a directory.
func (e *DirEntry) IsDir() bool {
	return e.Attr.Has(AttrDirectory)
}

// IsDotEntry reports whether the entry is the "." or ".." reference of a directory.
func (e *DirEntry) IsDotEntry() bool {
	return e.Name == "." || e.Name == ".."
}

// IsVolumeLabel reports whether the record only holds the volume label.
func (e *DirEntry) IsVolumeLabel() bool {
	return e.Attr.Has(AttrVolumeID) && !e.IsDir()
}

// Info returns an fs.FileInfo view of the entry.
func (e *DirEntry) Info() fs.FileInfo {
	return dirEntryFileInfo{*e}
}

// shortName assembles the 8.3 name of a raw record.
func shortName(raw [shortNameLength]byte) string {
	if raw[0] == entryKanjiE5 {
		raw[0] = entryDeleted
	}

	name := strings.TrimRight(string(raw[:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")

	if ext != "" {
		name += "." + ext
	}
	return name
}

// parseDirectory decodes the records of a directory. data contains the concatenated clusters
// of the directory and offsetOf maps a position in data to the volume relative offset.
func parseDirectory(data []byte, offsetOf func(pos int) int64, opts Options) ([]DirEntry, error) {
	var entries []DirEntry
	log := opts.logger()

	for pos := 0; pos+DirEntrySize <= len(data); pos += DirEntrySize {
		record := data[pos : pos+DirEntrySize]

		switch record[0] {
		case entryEnd:
			return entries, nil
		case entryDeleted:
			continue
		}

		raw := rawEntryHeader{}
		err := binary.Read(bytes.NewReader(record), binary.LittleEndian, &raw)
		if err != nil {
			return nil, checkpoint.Wrap(err, ErrParse)
		}

		attr := Attr(raw.Attribute)
		if attr&attrLongNameMask == attrLongName {
			if opts.StrictLFN {
				return nil, checkpoint.Newf(ErrUnsupportedLFN, "record at offset %d", offsetOf(pos))
			}
			continue
		}

		if attr&attrReservedMask != 0 {
			log.WithFields(logrus.Fields{
				"offset":    offsetOf(pos),
				"attribute": fmt.Sprintf("0x%02X", byte(attr)),
			}).Warn("skipping directory record with reserved attribute bits")
			continue
		}

		entries = append(entries, DirEntry{
			Name:         shortName(raw.Name),
			Attr:         attr,
			FirstCluster: uint32(raw.FirstClusterHI)<<16 | uint32(raw.FirstClusterLO),
			Size:         raw.FileSize,
			ModTime:      dosDateTime(raw.WriteDate, raw.WriteTime),
			Offset:       offsetOf(pos),
		})
	}

	return entries, nil
}

// parseDOSDate reads a FAT date stamp:
//  Bits 0–4: Day of month, valid value range 1-31 inclusive.
//  Bits 5–8: Month of year, 1 = January, valid value range 1–12 inclusive.
//  Bits 9–15: Count of years from 1980, valid value range 0–127 inclusive.
// A day or month of 0 is invalid and results in time.Time{}.
func parseDOSDate(input uint16) time.Time {
	dayOfMonth := input & 0x1F
	monthOfYear := input & 0x1E0 >> 5
	yearSince1980 := input & 0xFE00 >> 9

	if dayOfMonth == 0 || monthOfYear == 0 {
		return time.Time{}
	}

	return time.Date(1980+int(yearSince1980), time.Month(monthOfYear), int(dayOfMonth), 0, 0, 0, 0, time.UTC)
}

// parseDOSTime reads a FAT time stamp with a granularity of 2 seconds:
//  Bits 0–4: 2-second count, valid value range 0–29 inclusive (0 – 58 seconds).
//  Bits 5–10: Minutes, valid value range 0–59 inclusive.
//  Bits 11–15: Hours, valid value range 0–23 inclusive.
// Out of range values are limited to 23:59:59.
func parseDOSTime(input uint16) (hour, minute, second int) {
	second = int(input&0x1F) * 2
	minute = int(input & 0x7E0 >> 5)
	hour = int(input & 0xF800 >> 11)

	if hour > 23 || minute > 59 || second > 59 {
		return 23, 59, 59
	}
	return hour, minute, second
}

func dosDateTime(date, clock uint16) time.Time {
	d := parseDOSDate(date)
	if d.IsZero() {
		return time.Time{}
	}

	hour, minute, second := parseDOSTime(clock)
	return time.Date(d.Year(), d.Month(), d.Day(), hour, minute, second, 0, time.UTC)
}

type dirEntryFileInfo struct {
	entry DirEntry
}

func (e dirEntryFileInfo) Name() string {
	return e.entry.Name
}

func (e dirEntryFileInfo) Size() int64 {
	return int64(e.entry.Size)
}

func (e dirEntryFileInfo) Mode() fs.FileMode {
	mode := fs.FileMode(0666)
	if e.entry.Attr.Has(AttrReadOnly) {
		mode = 0444
	}
	if e.IsDir() {
		mode |= fs.ModeDir | 0111
	}
	return mode
}

func (e dirEntryFileInfo) ModTime() time.Time {
	return e.entry.ModTime
}

func (e dirEntryFileInfo) IsDir() bool {
	return e.entry.IsDir()
}

func (e dirEntryFileInfo) Sys() interface{} {
	return e.entry
}
