package fatslack

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/aligator/fatslack/checkpoint"
)

// PartitionCount is the number of slots in a classic partition table.
const PartitionCount = 4

const (
	partitionTableOffset = 446
	partitionEntrySize   = 16
	signatureOffset      = 510
)

// PartitionType is the system id byte of a partition table entry.
type PartitionType byte

// Some well known partition types.
const (
	TypeEmpty    PartitionType = 0x00
	TypeFAT12    PartitionType = 0x01
	TypeFAT16    PartitionType = 0x06
	TypeNTFS     PartitionType = 0x07
	TypeFAT32CHS PartitionType = 0x0B
	TypeFAT32LBA PartitionType = 0x0C
	TypeFAT16LBA PartitionType = 0x0E
	TypeLinux    PartitionType = 0x83
	TypeGPT      PartitionType = 0xEE
)

func (t PartitionType) String() string {
	switch t {
	case TypeEmpty:
		return "Empty"
	case TypeFAT12:
		return "FAT12"
	case TypeFAT16, TypeFAT16LBA:
		return "FAT16"
	case TypeNTFS:
		return "NTFS/exFAT"
	case TypeFAT32CHS:
		return "FAT32 CHS"
	case TypeFAT32LBA:
		return "LBA FAT32"
	case TypeLinux:
		return "Linux"
	case TypeGPT:
		return "GPT protective"
	default:
		return fmt.Sprintf("Unsupported: 0x%02X", byte(t))
	}
}

// IsFAT32 reports whether the type announces a FAT32 filesystem.
func (t PartitionType) IsFAT32() bool {
	return t == TypeFAT32CHS || t == TypeFAT32LBA
}

// PartitionEntry is one slot of the partition table.
// The CHS addresses are ignored, only LBA addressing is supported.
type PartitionEntry struct {
	Status      byte
	Type        PartitionType
	LBAStart    uint32
	SectorCount uint32
}

// Used reports whether the slot describes a partition.
func (e PartitionEntry) Used() bool {
	return e.Type != TypeEmpty
}

// Bootable reports whether the active flag is set.
func (e PartitionEntry) Bootable() bool {
	return e.Status&0x80 != 0
}

// LBAEnd returns the first sector after the partition.
func (e PartitionEntry) LBAEnd() uint64 {
	return uint64(e.LBAStart) + uint64(e.SectorCount)
}

// MBR is a parsed Master Boot Record.
type MBR struct {
	Entries       [PartitionCount]PartitionEntry
	BootSignature uint16
}

// DecodeMBR parses the first sector of a disk.
// It does not check the entries against the size of any image.
func DecodeMBR(b []byte) (*MBR, error) {
	if len(b) < MBRSectorSize {
		return nil, checkpoint.Newf(ErrInvalidSignature, "need %d bytes, got %d", MBRSectorSize, len(b))
	}

	if b[signatureOffset] != 0x55 || b[signatureOffset+1] != 0xAA {
		return nil, checkpoint.Newf(ErrInvalidSignature, "0x%02X%02X", b[signatureOffset], b[signatureOffset+1])
	}

	m := &MBR{
		BootSignature: binary.BigEndian.Uint16(b[signatureOffset:]),
	}

	for i := range m.Entries {
		raw := b[partitionTableOffset+i*partitionEntrySize:]
		m.Entries[i] = PartitionEntry{
			Status:      raw[0],
			Type:        PartitionType(raw[4]),
			LBAStart:    binary.LittleEndian.Uint32(raw[8:12]),
			SectorCount: binary.LittleEndian.Uint32(raw[12:16]),
		}
	}

	if err := m.checkOverlap(); err != nil {
		return nil, err
	}

	return m, nil
}

// ParseMBR reads and parses sector 0 of the image.
func ParseMBR(img *Image) (*MBR, error) {
	sector, err := img.ReadSector(0, MBRSectorSize)
	if err != nil {
		return nil, checkpoint.Wrap(err, fmt.Errorf("could not read the MBR"))
	}
	return DecodeMBR(sector)
}

func (m *MBR) checkOverlap() error {
	for i := 0; i < PartitionCount; i++ {
		a := m.Entries[i]
		if !a.Used() {
			continue
		}
		for j := i + 1; j < PartitionCount; j++ {
			b := m.Entries[j]
			if !b.Used() {
				continue
			}
			if uint64(a.LBAStart) < b.LBAEnd() && uint64(b.LBAStart) < a.LBAEnd() {
				return checkpoint.Newf(ErrOverlappingPartitions, "slot %d [%d, %d) and slot %d [%d, %d)",
					i, a.LBAStart, a.LBAEnd(), j, b.LBAStart, b.LBAEnd())
			}
		}
	}
	return nil
}

// UsedEntries returns the slot indexes of all used entries in table order.
func (m *MBR) UsedEntries() []int {
	var used []int
	for i, e := range m.Entries {
		if e.Used() {
			used = append(used, i)
		}
	}
	return used
}

// FirstUsed returns the slot index of the used partition which starts first on the disk.
func (m *MBR) FirstUsed() (int, error) {
	used := m.UsedEntries()
	if len(used) == 0 {
		return -1, checkpoint.From(ErrNoPartition)
	}

	sort.SliceStable(used, func(a, b int) bool {
		return m.Entries[used[a]].LBAStart < m.Entries[used[b]].LBAStart
	})
	return used[0], nil
}

// Entry returns the entry of a slot.
func (m *MBR) Entry(slot int) (PartitionEntry, error) {
	if slot < 0 || slot >= PartitionCount {
		return PartitionEntry{}, checkpoint.Newf(ErrNoSuchPartition, "slot %d", slot)
	}
	return m.Entries[slot], nil
}
