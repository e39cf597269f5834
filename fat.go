package fatslack

import (
	"encoding/binary"
	"fmt"

	"github.com/aligator/fatslack/checkpoint"
	"github.com/sirupsen/logrus"
)

const (
	firstDataCluster = 2

	fatEntryFree      = 0x00000000
	fatEntryMask      = 0x0FFFFFFF
	fatEntryHighMask  = 0xF0000000
	fatEntryMaxAlloc  = 0x0FFFFFEF
	fatEntryBad       = 0x0FFFFFF7
	fatEntryEOCMin    = 0x0FFFFFF8
	fatEntryEOC       = 0x0FFFFFFF
	fatScanChunkCount = 4096
)

// FATEntryKind tells how a FAT entry is used.
type FATEntryKind int

const (
	EntryFree FATEntryKind = iota
	EntryAllocated
	EntryEndOfChain
	EntryBad
	EntryReserved
)

func (k FATEntryKind) String() string {
	switch k {
	case EntryFree:
		return "free"
	case EntryAllocated:
		return "allocated"
	case EntryEndOfChain:
		return "end of chain"
	case EntryBad:
		return "bad"
	case EntryReserved:
		return "reserved"
	}
	return fmt.Sprintf("FATEntryKind(%d)", int(k))
}

// FATEntry is a decoded FAT entry. Next is only set for EntryAllocated.
type FATEntry struct {
	Kind FATEntryKind
	Next uint32
}

// ParseFATEntry maps a raw entry to its kind. The upper 4 bits are ignored.
func ParseFATEntry(raw uint32) FATEntry {
	v := raw & fatEntryMask
	switch {
	case v == 0:
		return FATEntry{Kind: EntryFree}
	case v == 1:
		return FATEntry{Kind: EntryReserved}
	case v <= fatEntryMaxAlloc:
		return FATEntry{Kind: EntryAllocated, Next: v}
	case v == fatEntryBad:
		return FATEntry{Kind: EntryBad}
	case v >= fatEntryEOCMin:
		return FATEntry{Kind: EntryEndOfChain}
	}
	// 0x0FFFFFF0 - 0x0FFFFFF6
	return FATEntry{Kind: EntryReserved}
}

// Value returns the raw value which represents the entry.
// Reserved entries have no canonical value and return 1.
func (e FATEntry) Value() uint32 {
	switch e.Kind {
	case EntryFree:
		return 0
	case EntryAllocated:
		return e.Next & fatEntryMask
	case EntryEndOfChain:
		return fatEntryEOC
	case EntryBad:
		return fatEntryBad
	}
	return 1
}

// Table gives access to all copies of the File Allocation Table of one volume.
// It always works on the live bytes of the image.
type Table struct {
	dev Device
	bs  *BootSector
	log logrus.FieldLogger
}

// NewTable creates a Table for the volume behind dev, which must be addressed relative to the volume.
func NewTable(dev Device, bs *BootSector, opts Options) *Table {
	return &Table{
		dev: dev,
		bs:  bs,
		log: opts.logger(),
	}
}

// BootSector returns the geometry the table works with.
func (t *Table) BootSector() *BootSector {
	return t.bs
}

func (t *Table) entryOffset(fatCopy int, cluster uint32) int64 {
	return t.bs.FATOffset(fatCopy) + int64(cluster)*4
}

func (t *Table) checkCluster(cluster uint32) error {
	if cluster < firstDataCluster || cluster > t.bs.MaxCluster() {
		return checkpoint.Newf(ErrInvalidCluster, "%d not in [%d, %d]", cluster, firstDataCluster, t.bs.MaxCluster())
	}
	return nil
}

func (t *Table) checkCopy(fatCopy int) error {
	if fatCopy < 0 || fatCopy >= int(t.bs.NumFATs) {
		return checkpoint.Newf(ErrOutOfBounds, "FAT copy %d, volume has %d", fatCopy, t.bs.NumFATs)
	}
	return nil
}

func (t *Table) readRaw(fatCopy int, cluster uint32) (uint32, error) {
	var b [4]byte
	_, err := t.dev.ReadAt(b[:], t.entryOffset(fatCopy, cluster))
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b[:]), nil
}

// ReadEntry reads the entry of cluster from the first FAT.
func (t *Table) ReadEntry(cluster uint32) (FATEntry, error) {
	return t.ReadEntryCopy(0, cluster)
}

// ReadEntryCopy reads the entry of cluster from the given FAT copy.
func (t *Table) ReadEntryCopy(fatCopy int, cluster uint32) (FATEntry, error) {
	if err := t.checkCopy(fatCopy); err != nil {
		return FATEntry{}, err
	}
	if err := t.checkCluster(cluster); err != nil {
		return FATEntry{}, err
	}

	raw, err := t.readRaw(fatCopy, cluster)
	if err != nil {
		return FATEntry{}, err
	}
	return ParseFATEntry(raw), nil
}

// WriteEntry sets the entry of cluster to value in every FAT copy.
// The upper 4 reserved bits of the first copy are kept and written to all copies.
func (t *Table) WriteEntry(cluster uint32, value uint32) error {
	if err := t.checkCluster(cluster); err != nil {
		return err
	}

	old, err := t.readRaw(0, cluster)
	if err != nil {
		return err
	}

	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], old&fatEntryHighMask|value&fatEntryMask)

	for fatCopy := 0; fatCopy < int(t.bs.NumFATs); fatCopy++ {
		if _, err := t.dev.WriteAt(b[:], t.entryOffset(fatCopy, cluster)); err != nil {
			return checkpoint.Wrap(err, fmt.Errorf("could not write FAT copy %d", fatCopy))
		}
	}

	t.log.WithFields(logrus.Fields{
		"cluster": cluster,
		"value":   fmt.Sprintf("0x%08X", value&fatEntryMask),
	}).Debug("FAT entry written")
	return nil
}

// MarkBad marks cluster as bad in every FAT copy.
func (t *Table) MarkBad(cluster uint32) error {
	return t.WriteEntry(cluster, fatEntryBad)
}

// Chain returns an iterator over the cluster chain beginning at start.
func (t *Table) Chain(start uint32) *Chain {
	c := &Chain{
		t:     t,
		start: start,
	}
	c.Reset()
	return c
}

// FollowChain collects the whole cluster chain beginning at start.
func (t *Table) FollowChain(start uint32) ([]uint32, error) {
	var clusters []uint32
	c := t.Chain(start)
	for c.Next() {
		clusters = append(clusters, c.Cluster())
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return clusters, nil
}

// scan calls fn for every entry of the first FAT beginning at from until fn returns false.
// The FAT is read in chunks instead of entry by entry.
func (t *Table) scan(from uint32, fn func(cluster uint32, e FATEntry) bool) error {
	last := t.bs.MaxCluster()
	buf := make([]byte, fatScanChunkCount*4)

	for c := from; c <= last; {
		n := last - c + 1
		if n > fatScanChunkCount {
			n = fatScanChunkCount
		}

		b := buf[:n*4]
		if _, err := t.dev.ReadAt(b, t.entryOffset(0, c)); err != nil {
			return err
		}

		for i := uint32(0); i < n; i++ {
			if !fn(c+i, ParseFATEntry(binary.LittleEndian.Uint32(b[i*4:]))) {
				return nil
			}
		}
		c += n
	}
	return nil
}

// FindFreeCluster returns the first free cluster, searching from cluster 2.
func (t *Table) FindFreeCluster() (uint32, error) {
	return t.FindFreeRun(1)
}

// FindFreeRun returns the first cluster of the first run of n consecutive free clusters.
func (t *Table) FindFreeRun(n int) (uint32, error) {
	if n <= 0 {
		return 0, checkpoint.Newf(ErrInvalidCluster, "run length %d", n)
	}

	var (
		found    bool
		runStart uint32
		runLen   int
	)
	err := t.scan(firstDataCluster, func(cluster uint32, e FATEntry) bool {
		if e.Kind != EntryFree {
			runLen = 0
			return true
		}
		if runLen == 0 {
			runStart = cluster
		}
		runLen++
		if runLen == n {
			found = true
			return false
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, checkpoint.Newf(ErrNoFreeCluster, "no run of %d free clusters", n)
	}
	return runStart, nil
}

// BadClusters lists all clusters marked bad in the first FAT.
func (t *Table) BadClusters() ([]uint32, error) {
	var bad []uint32
	err := t.scan(firstDataCluster, func(cluster uint32, e FATEntry) bool {
		if e.Kind == EntryBad {
			bad = append(bad, cluster)
		}
		return true
	})
	if err != nil {
		return nil, err
	}
	return bad, nil
}

// FreeClusterCount counts all free clusters in the first FAT.
func (t *Table) FreeClusterCount() (uint32, error) {
	var free uint32
	err := t.scan(firstDataCluster, func(_ uint32, e FATEntry) bool {
		if e.Kind == EntryFree {
			free++
		}
		return true
	})
	return free, err
}

// Chain iterates a cluster chain. It stops with ErrCorruptChain instead of looping forever:
// at most ClusterCount clusters are produced and no cluster is produced twice.
//
//  c := table.Chain(start)
//  for c.Next() {
//  	use(c.Cluster())
//  }
//  if err := c.Err(); err != nil {
//  	...
//  }
type Chain struct {
	t     *Table
	start uint32

	cur     uint32
	next    uint32
	steps   uint32
	visited map[uint32]struct{}
	done    bool
	err     error
}

// Reset restarts the iteration at the first cluster.
func (c *Chain) Reset() {
	c.cur = 0
	c.next = c.start
	c.steps = 0
	c.visited = make(map[uint32]struct{})
	c.done = false
	c.err = nil

	if err := c.t.checkCluster(c.start); err != nil {
		c.fail(err)
	}
}

func (c *Chain) fail(err error) bool {
	c.err = err
	c.done = true
	return false
}

// Next advances to the next cluster and reports whether there is one.
func (c *Chain) Next() bool {
	if c.done {
		return false
	}

	cluster := c.next
	if _, ok := c.visited[cluster]; ok {
		return c.fail(checkpoint.Newf(ErrCorruptChain, "cluster %d is visited twice in the chain of %d", cluster, c.start))
	}

	c.steps++
	if c.steps > c.t.bs.ClusterCount() {
		return c.fail(checkpoint.Newf(ErrCorruptChain, "chain of %d is longer than the cluster count %d", c.start, c.t.bs.ClusterCount()))
	}

	e, err := c.t.ReadEntry(cluster)
	if err != nil {
		return c.fail(err)
	}

	switch e.Kind {
	case EntryAllocated:
		if e.Next < firstDataCluster || e.Next > c.t.bs.MaxCluster() {
			return c.fail(checkpoint.Newf(ErrCorruptChain, "cluster %d points to %d which is out of range", cluster, e.Next))
		}
		c.next = e.Next
	case EntryEndOfChain:
		c.done = true
	default:
		return c.fail(checkpoint.Newf(ErrCorruptChain, "cluster %d in the chain of %d is %v", cluster, c.start, e.Kind))
	}

	c.visited[cluster] = struct{}{}
	c.cur = cluster
	return true
}

// Cluster returns the current cluster. Only valid after Next returned true.
func (c *Chain) Cluster() uint32 {
	return c.cur
}

// Err returns the error which stopped the iteration, if any.
func (c *Chain) Err() error {
	return c.err
}
