package fatslack

import (
	"fmt"

	"github.com/aligator/fatslack/checkpoint"
)

// Session bundles one open image with its parsed MBR and the boot sectors of all volumes
// opened so far. MBR and boot sectors are parsed once and cached, everything else
// is read from the image on every call.
//
// A Session is not safe for concurrent use.
type Session struct {
	img     *Image
	opts    Options
	mbr     *MBR
	volumes map[int]*Volume
}

// NewSession parses the MBR of img.
func NewSession(img *Image, opts Options) (*Session, error) {
	m, err := ParseMBR(img)
	if err != nil {
		return nil, err
	}

	return &Session{
		img:     img,
		opts:    opts,
		mbr:     m,
		volumes: make(map[int]*Volume),
	}, nil
}

// Image returns the image of the session.
func (s *Session) Image() *Image {
	return s.img
}

// MBR returns the cached partition table.
func (s *Session) MBR() *MBR {
	return s.mbr
}

// Options returns the options the session was created with.
func (s *Session) Options() Options {
	return s.opts
}

// Close closes the image.
func (s *Session) Close() error {
	return s.img.Close()
}

// Volume opens the FAT32 volume in the given partition table slot.
// The boot sector is parsed on first use and cached afterwards.
func (s *Session) Volume(slot int) (*Volume, error) {
	if v, ok := s.volumes[slot]; ok {
		return v, nil
	}

	entry, err := s.mbr.Entry(slot)
	if err != nil {
		return nil, err
	}

	view, err := NewPartitionView(s.img, entry)
	if err != nil {
		return nil, checkpoint.Wrap(err, fmt.Errorf("could not open partition %d", slot))
	}

	opts := s.opts
	opts.Logger = s.opts.logger().WithField("partition", slot)

	bs, err := ParseBootSector(view, opts)
	if err != nil {
		return nil, err
	}

	v := &Volume{
		Slot:  slot,
		Entry: entry,
		View:  view,
		Boot:  bs,
		opts:  opts,
	}
	s.volumes[slot] = v
	return v, nil
}

// FirstVolume opens the volume of the used partition which starts first on the disk.
func (s *Session) FirstVolume() (*Volume, error) {
	slot, err := s.mbr.FirstUsed()
	if err != nil {
		return nil, err
	}
	return s.Volume(slot)
}

// WriteRegion writes data into the region of the session's image.
func (s *Session) WriteRegion(r Region, data []byte) (Region, error) {
	return WriteRegion(s.img, r, data)
}

// ReadRegion reads the region from the session's image.
func (s *Session) ReadRegion(r Region) ([]byte, error) {
	return ReadRegion(s.img, r)
}

// Volume is a FAT32 filesystem inside one partition.
type Volume struct {
	Slot  int
	Entry PartitionEntry
	View  *PartitionView
	Boot  *BootSector

	opts Options
}

// Table returns the FAT of the volume.
func (v *Volume) Table() *Table {
	return NewTable(v.View, v.Boot, v.opts)
}

// Tree builds the directory tree from the current state of the image.
func (v *Volume) Tree() (*Tree, error) {
	return BuildTree(v)
}

// FindFile looks up the entry of an 8.3 path like "1/T.TXT".
func (v *Volume) FindFile(p string) (*DirEntry, error) {
	tree, err := v.Tree()
	if err != nil {
		return nil, err
	}

	node, err := tree.Lookup(p)
	if err != nil {
		return nil, err
	}

	e := node.Entry
	return &e, nil
}
