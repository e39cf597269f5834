package fatslack

import (
	"fmt"

	"github.com/aligator/fatslack/checkpoint"
	"github.com/sirupsen/logrus"
)

// RegionKind is the kind of hidden space a Region describes.
type RegionKind int

const (
	// PostMBR is the gap between the MBR sector and the first partition.
	PostMBR RegionKind = iota
	// VolumeSlack is the tail of a partition behind the end of its filesystem.
	VolumeSlack
	// FileSlack is the unused tail of the last cluster of a file.
	FileSlack
	// BadCluster is a run of clusters which are marked bad in the FAT.
	BadCluster
)

// RegionKinds lists all kinds in their canonical order.
var RegionKinds = []RegionKind{PostMBR, VolumeSlack, FileSlack, BadCluster}

func (k RegionKind) String() string {
	switch k {
	case PostMBR:
		return "post-mbr"
	case VolumeSlack:
		return "volume-slack"
	case FileSlack:
		return "file-slack"
	case BadCluster:
		return "bad-cluster"
	}
	return fmt.Sprintf("RegionKind(%d)", int(k))
}

// ParseRegionKind is the inverse of RegionKind.String.
func ParseRegionKind(s string) (RegionKind, error) {
	for _, k := range RegionKinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, checkpoint.Newf(ErrUnknownRegionKind, "%q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (k RegionKind) MarshalText() ([]byte, error) {
	switch k {
	case PostMBR, VolumeSlack, FileSlack, BadCluster:
		return []byte(k.String()), nil
	}
	return nil, checkpoint.Newf(ErrUnknownRegionKind, "%d", int(k))
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *RegionKind) UnmarshalText(text []byte) error {
	parsed, err := ParseRegionKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Region is a byte range of the image which can hold a hidden payload.
// Offset is an absolute image offset.
type Region struct {
	Kind   RegionKind
	Offset int64
	Length int64

	// Partition is the table slot of the volume, -1 for PostMBR.
	Partition int
	// Entry is the file of a FileSlack region.
	Entry *DirEntry
	// Cluster is the last cluster of the file for FileSlack and the first bad cluster for BadCluster.
	Cluster uint32
	// Count is the number of bad clusters.
	Count int

	// The region may never leave [windowStart, windowEnd).
	windowStart int64
	windowEnd   int64
}

// End returns the first offset behind the region.
func (r Region) End() int64 {
	return r.Offset + r.Length
}

func (r Region) String() string {
	return fmt.Sprintf("%v [%d, %d) %d bytes", r.Kind, r.Offset, r.End(), r.Length)
}

func (r Region) checkWindow(img *Image) error {
	start, end := r.windowStart, r.windowEnd
	if end == 0 {
		start, end = 0, img.Size()
	}
	if r.Offset < start || r.Length < 0 || r.End() > end {
		return checkpoint.Newf(ErrOutOfBounds, "%v leaves [%d, %d)", r, start, end)
	}
	return nil
}

// LocatePostMBR returns the gap between the MBR and the first used partition.
func LocatePostMBR(m *MBR) (Region, error) {
	slot, err := m.FirstUsed()
	if err != nil {
		return Region{}, err
	}

	start := int64(MBRSectorSize)
	end := int64(m.Entries[slot].LBAStart) * MBRSectorSize
	if end < start {
		end = start
	}

	return Region{
		Kind:        PostMBR,
		Offset:      start,
		Length:      end - start,
		Partition:   -1,
		windowStart: start,
		windowEnd:   end,
	}, nil
}

func (v *Volume) region(kind RegionKind, off, length int64) Region {
	return Region{
		Kind:        kind,
		Offset:      off,
		Length:      length,
		Partition:   v.Slot,
		windowStart: v.View.Base(),
		windowEnd:   v.View.Base() + v.View.Size(),
	}
}

// LocateVolumeSlack returns the part of the partition behind the end of the filesystem.
// It is empty if the filesystem fills the whole partition.
func (v *Volume) LocateVolumeSlack() Region {
	start := v.Boot.VolumeSize()
	end := v.View.Size()
	if start > end {
		v.opts.logger().WithFields(logrus.Fields{
			"filesystem": start,
			"partition":  end,
		}).Warn("filesystem is larger than its partition")
		start = end
	}
	return v.region(VolumeSlack, v.View.Base()+start, end-start)
}

// LocateFileSlack returns the unused tail of the last cluster of the file.
// The region is empty if the size is a multiple of the cluster size.
func (v *Volume) LocateFileSlack(e *DirEntry) (Region, error) {
	if e.FirstCluster == 0 {
		return Region{}, checkpoint.Newf(ErrNoAllocatedCluster, "%s", e.Name)
	}

	chain, err := v.Table().FollowChain(e.FirstCluster)
	if err != nil {
		return Region{}, err
	}
	last := chain[len(chain)-1]

	cs := v.Boot.ClusterSize()
	// The whole last cluster holds file data then.
	if int64(e.Size) > int64(len(chain))*cs {
		return Region{}, checkpoint.Newf(ErrCorruptChain, "%s holds %d bytes in %d clusters", e.Name, e.Size, len(chain))
	}
	used := int64(e.Size) % cs
	length := cs - used
	if used == 0 {
		length = 0
	}

	r := v.region(FileSlack, v.View.Base()+v.Boot.ClusterOffset(last)+cs-length, length)
	entry := *e
	r.Entry = &entry
	r.Cluster = last
	return r, nil
}

// LocateBadCluster marks the first free cluster as bad in every FAT copy and returns it as region.
func (v *Volume) LocateBadCluster() (Region, error) {
	return v.LocateBadClusters(1)
}

// LocateBadClusters marks the first run of n consecutive free clusters as bad in every FAT copy
// and returns the run as one region. If marking fails, the clusters of the run are set free again.
func (v *Volume) LocateBadClusters(n int) (Region, error) {
	table := v.Table()

	start, err := table.FindFreeRun(n)
	if err != nil {
		return Region{}, err
	}

	for c := start; c < start+uint32(n); c++ {
		if err := table.MarkBad(c); err != nil {
			v.releaseClusters(table, start, c)
			return Region{}, err
		}
	}

	v.opts.logger().WithFields(logrus.Fields{
		"cluster": start,
		"count":   n,
	}).Info("clusters marked as bad")

	return v.badClusterRegion(start, n), nil
}

// releaseClusters sets the clusters [start, last] free in every FAT copy.
func (v *Volume) releaseClusters(table *Table, start, last uint32) {
	for c := start; c <= last; c++ {
		if err := table.WriteEntry(c, fatEntryFree); err != nil {
			v.opts.logger().WithFields(logrus.Fields{
				"cluster": c,
				"error":   checkpoint.Message(err),
			}).Warn("could not set cluster free again")
		}
	}
}

func (v *Volume) badClusterRegion(start uint32, n int) Region {
	r := v.region(BadCluster, v.View.Base()+v.Boot.ClusterOffset(start), int64(n)*v.Boot.ClusterSize())
	r.Cluster = start
	r.Count = n
	return r
}

// RegionForBadCluster returns the region of a cluster which is already marked bad.
func (v *Volume) RegionForBadCluster(cluster uint32) (Region, error) {
	e, err := v.Table().ReadEntry(cluster)
	if err != nil {
		return Region{}, err
	}
	if e.Kind != EntryBad {
		return Region{}, checkpoint.Newf(ErrNotBadCluster, "cluster %d is %v", cluster, e.Kind)
	}
	return v.badClusterRegion(cluster, 1), nil
}

// SlackRequest selects the region LocateSlack computes.
type SlackRequest struct {
	Kind RegionKind

	// Partition is the table slot of the volume. It is ignored for PostMBR.
	Partition int

	// Path is the 8.3 path of the file for FileSlack, used if Entry is nil.
	Path  string
	Entry *DirEntry

	// Clusters is the number of clusters to mark bad, at least 1.
	Clusters int
}

// LocateSlack computes the requested region.
// For BadCluster the chosen clusters are marked bad as a side effect.
func LocateSlack(s *Session, req SlackRequest) (Region, error) {
	if req.Kind == PostMBR {
		return LocatePostMBR(s.MBR())
	}

	switch req.Kind {
	case VolumeSlack, FileSlack, BadCluster:
	default:
		return Region{}, checkpoint.Newf(ErrUnknownRegionKind, "%d", int(req.Kind))
	}

	v, err := s.Volume(req.Partition)
	if err != nil {
		return Region{}, err
	}

	switch req.Kind {
	case VolumeSlack:
		return v.LocateVolumeSlack(), nil
	case FileSlack:
		e := req.Entry
		if e == nil {
			e, err = v.FindFile(req.Path)
			if err != nil {
				return Region{}, err
			}
		}
		return v.LocateFileSlack(e)
	default:
		n := req.Clusters
		if n < 1 {
			n = 1
		}
		return v.LocateBadClusters(n)
	}
}

// ClustersFor returns how many clusters of the volume are needed to hold size bytes.
func (v *Volume) ClustersFor(size int) int {
	cs := int(v.Boot.ClusterSize())
	return (size + cs - 1) / cs
}

// WriteRegion writes data to the beginning of the region. It fails with ErrPayloadTooLarge
// without writing anything if data does not fit. The returned region covers exactly the
// written bytes, so ReadRegion on it returns data.
func WriteRegion(img *Image, r Region, data []byte) (Region, error) {
	if int64(len(data)) > r.Length {
		return Region{}, checkpoint.Newf(ErrPayloadTooLarge, "%d bytes into %v", len(data), r)
	}
	if err := r.checkWindow(img); err != nil {
		return Region{}, err
	}

	written := r
	written.Length = int64(len(data))
	if len(data) == 0 {
		return written, nil
	}

	if _, err := img.WriteAt(data, r.Offset); err != nil {
		return Region{}, err
	}
	return written, nil
}

// ReadRegion returns the raw bytes of the region.
func ReadRegion(img *Image, r Region) ([]byte, error) {
	if err := r.checkWindow(img); err != nil {
		return nil, err
	}

	data := make([]byte, r.Length)
	if len(data) == 0 {
		return data, nil
	}
	if _, err := img.ReadAt(data, r.Offset); err != nil {
		return nil, err
	}
	return data, nil
}
