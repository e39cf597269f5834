package fatslack

import (
	"github.com/aligator/fatslack/checkpoint"
)

// PartitionView is a byte window into an Image bounded by one partition entry.
// All offsets are relative to the first byte of the partition.
type PartitionView struct {
	img   *Image
	entry PartitionEntry
	base  int64
	size  int64
}

// NewPartitionView creates the window [LBAStart*512, (LBAStart+SectorCount)*512) of img.
func NewPartitionView(img *Image, entry PartitionEntry) (*PartitionView, error) {
	if !entry.Used() {
		return nil, checkpoint.From(ErrUnusedPartition)
	}

	base := int64(entry.LBAStart) * MBRSectorSize
	size := int64(entry.SectorCount) * MBRSectorSize
	if err := img.checkBounds(base, size); err != nil {
		return nil, err
	}

	return &PartitionView{
		img:   img,
		entry: entry,
		base:  base,
		size:  size,
	}, nil
}

// Image returns the image the view projects.
func (p *PartitionView) Image() *Image {
	return p.img
}

// Entry returns the partition entry the view was created from.
func (p *PartitionView) Entry() PartitionEntry {
	return p.entry
}

// Base returns the absolute image offset of the partition.
func (p *PartitionView) Base() int64 {
	return p.base
}

// Size returns the size of the partition in bytes.
func (p *PartitionView) Size() int64 {
	return p.size
}

func (p *PartitionView) checkBounds(off, length int64) error {
	if off < 0 || length < 0 || off+length > p.size {
		return checkpoint.Newf(ErrOutOfBounds, "[%d, %d) outside of partition [0, %d)", off, off+length, p.size)
	}
	return nil
}

// ReadAt reads exactly len(b) bytes at the partition relative offset off.
func (p *PartitionView) ReadAt(b []byte, off int64) (int, error) {
	if err := p.checkBounds(off, int64(len(b))); err != nil {
		return 0, err
	}
	return p.img.ReadAt(b, p.base+off)
}

// WriteAt writes all of b at the partition relative offset off.
func (p *PartitionView) WriteAt(b []byte, off int64) (int, error) {
	if err := p.checkBounds(off, int64(len(b))); err != nil {
		return 0, err
	}
	return p.img.WriteAt(b, p.base+off)
}

// ReadSector reads a partition relative sector.
func (p *PartitionView) ReadSector(sector uint64, sectorSize int) ([]byte, error) {
	buf := make([]byte, sectorSize)
	_, err := p.ReadAt(buf, int64(sector)*int64(sectorSize))
	if err != nil {
		return nil, err
	}
	return buf, nil
}
