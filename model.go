// File model contains the structs which match the direct on-disk structures of FAT32.
// They are decoded with encoding/binary in little endian.

package fatslack

// rawBPB is the common part of the boot sector of every FAT variant.
type rawBPB struct {
	BSJumpBoot          [3]byte
	BSOEMName           [8]byte
	BytesPerSector      uint16
	SectorsPerCluster   byte
	ReservedSectorCount uint16
	NumFATs             byte
	RootEntryCount      uint16
	TotalSectors16      uint16
	Media               byte
	FATSize16           uint16
	SectorsPerTrack     uint16
	NumberOfHeads       uint16
	HiddenSectors       uint32
	TotalSectors32      uint32
	FAT32               rawFAT32Data
}

// rawFAT32Data directly follows rawBPB on FAT32 volumes.
type rawFAT32Data struct {
	FATSize32        uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfo           uint16
	BkBootSector     uint16
	Reserved         [12]byte
	BSDriveNumber    byte
	BSReserved1      byte
	BSBootSignature  byte
	BSVolumeID       uint32
	BSVolumeLabel    [11]byte
	BSFileSystemType [8]byte
}

// rawBPBSize is the number of bytes binary.Read consumes for rawBPB.
const rawBPBSize = 90

// rawEntryHeader is one 32 byte short name directory record.
type rawEntryHeader struct {
	Name            [11]byte
	Attribute       byte
	NTReserved      byte
	CreateTimeTenth byte
	CreateTime      uint16
	CreateDate      uint16
	LastAccessDate  uint16
	FirstClusterHI  uint16
	WriteTime       uint16
	WriteDate       uint16
	FirstClusterLO  uint16
	FileSize        uint32
}

// DirEntrySize is the size of one directory record.
const DirEntrySize = 32
