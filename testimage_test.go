package fatslack

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/spf13/afero"
)

// Geometry of the image built by newTestImage:
//
//  LBA 0          MBR
//  LBA 1-7        post MBR gap
//  LBA 8-167      partition 0 (slot 0), FAT32 with 150 sectors, 10 sectors volume slack
//  LBA 168-175    unallocated
//
// The volume has 512 byte sectors, 2 sectors per cluster, 4 reserved sectors and
// 2 FATs of one sector each, so the data region starts at sector 6 and has 72 clusters.
const (
	testPartitionLBA     = 8
	testPartitionSectors = 160
	testImageSectors     = 176
	testVolumeSectors    = 150
	testClusterSize      = 1024
	testDataStartSector  = 6

	testRootCluster   = 2
	testReadmeCluster = 3
	testSubCluster    = 4
	testTxtCluster    = 5 // chain 5 -> 6
	testTxtLast       = 6
	testAlignCluster  = 7
	testBadCluster    = 10
	testFirstFree     = 8
	testMaxCluster    = 73

	testReadmeSize = 700
	testTxtSize    = 1500
	testAlignSize  = 1024
)

var testReadmeTime = []uint16{
	// 2020-05-17
	40<<9 | 5<<5 | 17,
	// 13:45:30
	13<<11 | 45<<5 | 15,
}

type testImage struct {
	data []byte
}

func newTestImage() *testImage {
	ti := &testImage{
		data: make([]byte, testImageSectors*MBRSectorSize),
	}

	ti.setPartition(0, PartitionEntry{
		Status:      0x80,
		Type:        TypeFAT32LBA,
		LBAStart:    testPartitionLBA,
		SectorCount: testPartitionSectors,
	})
	ti.data[510] = 0x55
	ti.data[511] = 0xAA

	ti.writeBPB(ti.defaultBPB())

	ti.setFAT(0, 0x0FFFFFF8)
	ti.setFAT(1, 0xFFFFFFFF)
	ti.setFAT(testRootCluster, fatEntryEOC)
	ti.setFAT(testReadmeCluster, fatEntryEOC)
	ti.setFAT(testSubCluster, fatEntryEOC)
	ti.setFAT(testTxtCluster, testTxtLast)
	ti.setFAT(testTxtLast, fatEntryEOC)
	ti.setFAT(testAlignCluster, fatEntryEOC)
	ti.setFAT(testBadCluster, fatEntryBad)

	ti.setRecord(testRootCluster, 0, "TESTVOL    ", AttrVolumeID, 0, 0)
	ti.setRecord(testRootCluster, 1, "\x41R\x00E\x00A\x00D\x00M\x00", attrLongName, 0, 0)
	ti.setRecord(testRootCluster, 2, "README  TXT", AttrArchive, testReadmeCluster, testReadmeSize)
	ti.setDate(testRootCluster, 2, testReadmeTime[0], testReadmeTime[1])
	ti.setRecord(testRootCluster, 3, "\xE5ELETED TXT", AttrArchive, 20, 100)
	ti.setRecord(testRootCluster, 4, "SUB        ", AttrDirectory, testSubCluster, 0)
	ti.setRecord(testRootCluster, 5, "ALIGN   BIN", AttrArchive|AttrReadOnly, testAlignCluster, testAlignSize)
	ti.setRecord(testRootCluster, 6, "EMPTY   TXT", AttrArchive, 0, 0)
	ti.setRecord(testRootCluster, 7, "WEIRD      ", 0x40|AttrArchive, 30, 1)

	ti.setRecord(testSubCluster, 0, ".          ", AttrDirectory, testSubCluster, 0)
	ti.setRecord(testSubCluster, 1, "..         ", AttrDirectory, 0, 0)
	ti.setRecord(testSubCluster, 2, "T       TXT", AttrArchive, testTxtCluster, testTxtSize)

	copy(ti.data[ti.clusterOffset(testReadmeCluster):], bytes.Repeat([]byte("R"), testReadmeSize))
	copy(ti.data[ti.clusterOffset(testTxtCluster):], bytes.Repeat([]byte("T"), testClusterSize))
	copy(ti.data[ti.clusterOffset(testTxtLast):], bytes.Repeat([]byte("T"), testTxtSize-testClusterSize))
	copy(ti.data[ti.clusterOffset(testAlignCluster):], bytes.Repeat([]byte("A"), testAlignSize))

	return ti
}

func (ti *testImage) defaultBPB() rawBPB {
	bpb := rawBPB{
		BSJumpBoot:          [3]byte{0xEB, 0x58, 0x90},
		BytesPerSector:      512,
		SectorsPerCluster:   2,
		ReservedSectorCount: 4,
		NumFATs:             2,
		Media:               0xF8,
		HiddenSectors:       testPartitionLBA,
		TotalSectors32:      testVolumeSectors,
		FAT32: rawFAT32Data{
			FATSize32:       1,
			RootCluster:     testRootCluster,
			FSInfo:          1,
			BkBootSector:    6,
			BSDriveNumber:   0x80,
			BSBootSignature: 0x29,
			BSVolumeID:      0x12345678,
		},
	}
	copy(bpb.BSOEMName[:], "MSWIN4.1")
	copy(bpb.FAT32.BSVolumeLabel[:], "TESTVOL    ")
	copy(bpb.FAT32.BSFileSystemType[:], fat32TypeLabel)
	return bpb
}

func (ti *testImage) partitionOffset() int64 {
	return testPartitionLBA * MBRSectorSize
}

func (ti *testImage) clusterOffset(cluster uint32) int64 {
	return ti.partitionOffset() + int64(testDataStartSector+(cluster-2)*2)*MBRSectorSize
}

func (ti *testImage) setPartition(slot int, e PartitionEntry) {
	raw := ti.data[partitionTableOffset+slot*partitionEntrySize:]
	raw[0] = e.Status
	raw[4] = byte(e.Type)
	binary.LittleEndian.PutUint32(raw[8:12], e.LBAStart)
	binary.LittleEndian.PutUint32(raw[12:16], e.SectorCount)
}

func (ti *testImage) writeBPB(bpb rawBPB) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, bpb); err != nil {
		panic(err)
	}
	boot := ti.data[ti.partitionOffset():]
	copy(boot, buf.Bytes())
	boot[510] = 0x55
	boot[511] = 0xAA
}

// setFAT sets the raw entry of cluster in both FAT copies.
func (ti *testImage) setFAT(cluster, value uint32) {
	for fatCopy := int64(0); fatCopy < 2; fatCopy++ {
		off := ti.partitionOffset() + (4+fatCopy)*MBRSectorSize + int64(cluster)*4
		binary.LittleEndian.PutUint32(ti.data[off:], value)
	}
}

func (ti *testImage) fat(fatCopy int, cluster uint32) uint32 {
	off := ti.partitionOffset() + int64(4+fatCopy)*MBRSectorSize + int64(cluster)*4
	return binary.LittleEndian.Uint32(ti.data[off:])
}

func (ti *testImage) recordOffset(dirCluster uint32, idx int) int64 {
	return ti.clusterOffset(dirCluster) + int64(idx)*DirEntrySize
}

func (ti *testImage) setRecord(dirCluster uint32, idx int, name string, attr Attr, first, size uint32) {
	r := ti.data[ti.recordOffset(dirCluster, idx):]
	copy(r[:11], name)
	r[11] = byte(attr)
	binary.LittleEndian.PutUint16(r[20:22], uint16(first>>16))
	binary.LittleEndian.PutUint16(r[26:28], uint16(first))
	binary.LittleEndian.PutUint32(r[28:32], size)
}

func (ti *testImage) setDate(dirCluster uint32, idx int, date, clock uint16) {
	r := ti.data[ti.recordOffset(dirCluster, idx):]
	binary.LittleEndian.PutUint16(r[22:24], clock)
	binary.LittleEndian.PutUint16(r[24:26], date)
}

// image stores the bytes in an in-memory file and opens it.
func (ti *testImage) image(t *testing.T) *Image {
	t.Helper()
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/test.img", ti.data, 0644); err != nil {
		t.Fatal(err)
	}

	img, err := OpenImage(fs, "/test.img")
	if err != nil {
		t.Fatal(err)
	}
	return img
}

func (ti *testImage) session(t *testing.T, opts Options) *Session {
	t.Helper()
	s, err := NewSession(ti.image(t), opts)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	return s
}

func (ti *testImage) volume(t *testing.T, opts Options) *Volume {
	t.Helper()
	v, err := ti.session(t, opts).Volume(0)
	if err != nil {
		t.Fatalf("Session.Volume() error = %v", err)
	}
	return v
}

// testOptions returns the default options with a logger whose entries can be inspected.
func testOptions() (Options, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	opts := DefaultOptions()
	opts.Logger = logger
	return opts, hook
}

func readImage(t *testing.T, img *Image, off int64, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := img.ReadAt(b, off); err != nil {
		t.Fatalf("Image.ReadAt() error = %v", err)
	}
	return b
}
