package fatslack

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/aligator/fatslack/checkpoint"
)

const (
	// minFAT32Clusters is the smallest cluster count for which the FAT type determination
	// yields FAT32.
	minFAT32Clusters = 65525
	maxClusterSize   = 32 * 1024
	fat32TypeLabel   = "FAT32   "
)

// BootSector is the parsed boot sector and BIOS Parameter Block of a FAT32 volume.
type BootSector struct {
	JumpBoot            [3]byte
	OEMName             string
	BytesPerSector      uint16
	SectorsPerCluster   uint8
	ReservedSectorCount uint16
	NumFATs             uint8
	RootEntryCount      uint16
	TotalSectors16      uint16
	Media               byte
	FATSize16           uint16
	HiddenSectors       uint32
	TotalSectors32      uint32

	SectorsPerFAT32  uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootDirCluster   uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	ExtBootSignature byte
	VolumeID         uint32
	VolumeLabel      string
	FSTypeLabel      string

	// Signature contains bytes 510 and 511 of the sector, 0x55AA if valid.
	Signature uint16

	// Warnings lists all non-fatal anomalies found while parsing.
	Warnings []string
}

// DecodeBootSector parses and validates the first sector of a FAT32 volume.
// b must contain at least one full 512 byte sector.
func DecodeBootSector(b []byte, opts Options) (*BootSector, error) {
	if len(b) < MBRSectorSize {
		return nil, checkpoint.Newf(ErrShortRead, "boot sector needs %d bytes, got %d", MBRSectorSize, len(b))
	}

	raw := rawBPB{}
	err := binary.Read(bytes.NewReader(b[:rawBPBSize]), binary.LittleEndian, &raw)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrParse)
	}

	bs := &BootSector{
		JumpBoot:            raw.BSJumpBoot,
		OEMName:             strings.TrimRight(string(raw.BSOEMName[:]), " \x00"),
		BytesPerSector:      raw.BytesPerSector,
		SectorsPerCluster:   raw.SectorsPerCluster,
		ReservedSectorCount: raw.ReservedSectorCount,
		NumFATs:             raw.NumFATs,
		RootEntryCount:      raw.RootEntryCount,
		TotalSectors16:      raw.TotalSectors16,
		Media:               raw.Media,
		FATSize16:           raw.FATSize16,
		HiddenSectors:       raw.HiddenSectors,
		TotalSectors32:      raw.TotalSectors32,
		SectorsPerFAT32:     raw.FAT32.FATSize32,
		ExtFlags:            raw.FAT32.ExtFlags,
		FSVersion:           raw.FAT32.FSVersion,
		RootDirCluster:      raw.FAT32.RootCluster & fatEntryMask,
		FSInfoSector:        raw.FAT32.FSInfo,
		BackupBootSector:    raw.FAT32.BkBootSector,
		ExtBootSignature:    raw.FAT32.BSBootSignature,
		VolumeID:            raw.FAT32.BSVolumeID,
		VolumeLabel:         strings.TrimRight(string(raw.FAT32.BSVolumeLabel[:]), " \x00"),
		FSTypeLabel:         string(raw.FAT32.BSFileSystemType[:]),
		Signature:           binary.BigEndian.Uint16(b[signatureOffset:]),
	}

	if err := bs.validate(opts); err != nil {
		return nil, err
	}

	for _, w := range bs.Warnings {
		opts.logger().Warn(w)
	}

	return bs, nil
}

// ParseBootSector reads and parses the first sector of the partition.
func ParseBootSector(view *PartitionView, opts Options) (*BootSector, error) {
	sector, err := view.ReadSector(0, MBRSectorSize)
	if err != nil {
		return nil, checkpoint.Wrap(err, fmt.Errorf("could not read the boot sector"))
	}
	return DecodeBootSector(sector, opts)
}

func (bs *BootSector) warnf(format string, args ...interface{}) {
	bs.Warnings = append(bs.Warnings, fmt.Sprintf(format, args...))
}

// strict fails with err unless skip is set, in which case it is only recorded as warning.
func (bs *BootSector) strict(skip bool, err error, format string, args ...interface{}) error {
	if skip {
		bs.warnf("%v: "+format, append([]interface{}{err}, args...)...)
		return nil
	}
	return checkpoint.Newf(err, format, args...)
}

func (bs *BootSector) validate(opts Options) error {
	// Only these values are allowed by the FAT specification.
	switch bs.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return checkpoint.Newf(ErrInvalidBytesPerSector, "%d", bs.BytesPerSector)
	}

	// Sectors per cluster has to be a power of two between 1 and 128.
	spc := bs.SectorsPerCluster
	if spc == 0 || spc&(spc-1) != 0 {
		return checkpoint.Newf(ErrInvalidSectorsPerCluster, "%d", spc)
	}

	if bs.ReservedSectorCount == 0 {
		return checkpoint.From(ErrInvalidReservedSectors)
	}

	if bs.NumFATs == 0 {
		return checkpoint.From(ErrInvalidFATCount)
	}

	// Only the 32-bit field is used for the geometry.
	if bs.SectorsPerFAT32 == 0 {
		return checkpoint.Newf(ErrInvalidFATSize, "32-bit sectors per FAT is 0")
	}

	if bs.TotalSectors32 == 0 {
		return checkpoint.Newf(ErrInvalidTotalSectors, "32-bit total sectors is 0")
	}

	if bs.DataStartSector() >= uint64(bs.TotalSectors32) {
		return checkpoint.Newf(ErrInvalidTotalSectors, "data region starts at sector %d but the volume has only %d sectors",
			bs.DataStartSector(), bs.TotalSectors32)
	}

	if bs.RootDirCluster < firstDataCluster || bs.RootDirCluster > bs.MaxCluster() {
		return checkpoint.Newf(ErrInvalidRootCluster, "%d not in [%d, %d]", bs.RootDirCluster, firstDataCluster, bs.MaxCluster())
	}

	skip := opts.SkipChecks

	// Check if it is really a FAT filesystem.
	if !(bs.JumpBoot[0] == 0xEB && bs.JumpBoot[2] == 0x90) && bs.JumpBoot[0] != 0xE9 {
		if err := bs.strict(skip, ErrInvalidJump, "% X", bs.JumpBoot); err != nil {
			return err
		}
	}

	if bs.Signature != 0x55AA {
		if err := bs.strict(skip, ErrInvalidBootSignature, "0x%04X", bs.Signature); err != nil {
			return err
		}
	}

	if bs.RootEntryCount != 0 {
		if err := bs.strict(skip, ErrInvalidRootEntryCount, "%d", bs.RootEntryCount); err != nil {
			return err
		}
	}

	if bs.TotalSectors16 != 0 {
		if err := bs.strict(skip, ErrInvalidLegacyField, "total sectors %d", bs.TotalSectors16); err != nil {
			return err
		}
	}

	if bs.FATSize16 != 0 {
		if err := bs.strict(skip, ErrInvalidLegacyField, "sectors per FAT %d", bs.FATSize16); err != nil {
			return err
		}
	}

	// Many formatting tools leave the label empty or fill it with something else.
	if bs.FSTypeLabel != fat32TypeLabel {
		bs.warnf("unexpected filesystem type label %q", bs.FSTypeLabel)
	}

	if bs.ClusterCount() < minFAT32Clusters {
		bs.warnf("only %d clusters, drivers may detect this volume as FAT12/16", bs.ClusterCount())
	}

	if bs.ClusterSize() > maxClusterSize {
		bs.warnf("cluster size %d is larger than 32 KiB", bs.ClusterSize())
	}

	if uint64(bs.ClusterCount())+firstDataCluster > bs.fatCapacity() {
		bs.warnf("FAT holds %d entries but the data region has %d clusters", bs.fatCapacity(), bs.ClusterCount())
	}

	return nil
}

// FATStartSector returns the first sector of the first FAT, relative to the volume.
func (bs *BootSector) FATStartSector() uint64 {
	return uint64(bs.ReservedSectorCount)
}

// DataStartSector returns the first sector of cluster 2.
func (bs *BootSector) DataStartSector() uint64 {
	return uint64(bs.ReservedSectorCount) + uint64(bs.NumFATs)*uint64(bs.SectorsPerFAT32)
}

// ClusterToSector returns the first volume relative sector of cluster n.
func (bs *BootSector) ClusterToSector(n uint32) uint64 {
	return bs.DataStartSector() + uint64(n-firstDataCluster)*uint64(bs.SectorsPerCluster)
}

// ClusterSize returns the size of one cluster in bytes.
func (bs *BootSector) ClusterSize() int64 {
	return int64(bs.BytesPerSector) * int64(bs.SectorsPerCluster)
}

// ClusterCount returns the number of clusters in the data region.
func (bs *BootSector) ClusterCount() uint32 {
	data := uint64(bs.TotalSectors32) - bs.DataStartSector()
	return uint32(data / uint64(bs.SectorsPerCluster))
}

// fatCapacity is the number of entries a single FAT copy can hold.
func (bs *BootSector) fatCapacity() uint64 {
	return uint64(bs.SectorsPerFAT32) * uint64(bs.BytesPerSector) / 4
}

// MaxCluster returns the highest cluster number which is backed by both
// the data region and the FAT.
func (bs *BootSector) MaxCluster() uint32 {
	last := uint64(bs.ClusterCount()) + firstDataCluster - 1
	if c := bs.fatCapacity() - 1; c < last {
		last = c
	}
	return uint32(last)
}

// FATOffset returns the volume relative byte offset of the FAT copy with the given index.
func (bs *BootSector) FATOffset(fatCopy int) int64 {
	sector := bs.FATStartSector() + uint64(fatCopy)*uint64(bs.SectorsPerFAT32)
	return int64(sector) * int64(bs.BytesPerSector)
}

// ClusterOffset returns the volume relative byte offset of cluster n.
func (bs *BootSector) ClusterOffset(n uint32) int64 {
	return int64(bs.ClusterToSector(n)) * int64(bs.BytesPerSector)
}

// VolumeSize returns the size of the filesystem in bytes as declared by the boot sector.
func (bs *BootSector) VolumeSize() int64 {
	return int64(bs.TotalSectors32) * int64(bs.BytesPerSector)
}
