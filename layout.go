package fatslack

import (
	"fmt"
	"sort"
)

// LayoutRow is one line of a layout report. Start and End are absolute byte offsets.
type LayoutRow struct {
	Region      string
	Start       int64
	End         int64
	Description string
}

// DiskLayout describes the partition table and all gaps between the partitions.
type DiskLayout struct {
	Size          int64
	BootSignature uint16
	Rows          []LayoutRow
}

// VolumeLayout describes the regions of one FAT32 volume.
type VolumeLayout struct {
	Slot int
	Rows []LayoutRow
}

// Layout returns the disk layout of the session.
func (s *Session) Layout() DiskLayout {
	m := s.MBR()
	layout := DiskLayout{
		Size:          s.img.Size(),
		BootSignature: m.BootSignature,
		Rows: []LayoutRow{
			{Region: "MBR", Start: 0, End: MBRSectorSize, Description: "Master Boot Record"},
		},
	}

	used := m.UsedEntries()
	sort.SliceStable(used, func(a, b int) bool {
		return m.Entries[used[a]].LBAStart < m.Entries[used[b]].LBAStart
	})

	lastEnd := int64(MBRSectorSize)
	for _, slot := range used {
		e := m.Entries[slot]
		start := int64(e.LBAStart) * MBRSectorSize
		end := int64(e.LBAEnd()) * MBRSectorSize

		if start > lastEnd {
			layout.Rows = append(layout.Rows, LayoutRow{Start: lastEnd, End: start, Description: "Unallocated"})
		}
		layout.Rows = append(layout.Rows, LayoutRow{
			Region:      fmt.Sprintf("Part #%d", slot+1),
			Start:       start,
			End:         end,
			Description: e.Type.String(),
		})
		if end > lastEnd {
			lastEnd = end
		}
	}

	if lastEnd < layout.Size {
		layout.Rows = append(layout.Rows, LayoutRow{Start: lastEnd, End: layout.Size, Description: "Unallocated"})
	}

	return layout
}

// Layout returns the regions of the volume: reserved sectors, every FAT copy, the data region
// and the volume slack if there is any.
func (v *Volume) Layout() VolumeLayout {
	bs := v.Boot
	base := v.View.Base()
	sectorSize := int64(bs.BytesPerSector)

	fatStart := base + int64(bs.FATStartSector())*sectorSize
	dataStart := base + int64(bs.DataStartSector())*sectorSize
	dataEnd := dataStart + int64(bs.ClusterCount())*bs.ClusterSize()

	layout := VolumeLayout{
		Slot: v.Slot,
		Rows: []LayoutRow{
			{Region: "Reserved", Start: base, End: fatStart, Description: "Boot + Reserved"},
		},
	}

	fatSize := int64(bs.SectorsPerFAT32) * sectorSize
	for i := 0; i < int(bs.NumFATs); i++ {
		start := fatStart + int64(i)*fatSize
		layout.Rows = append(layout.Rows, LayoutRow{
			Region:      fmt.Sprintf("FAT #%d", i),
			Start:       start,
			End:         start + fatSize,
			Description: "FAT Table",
		})
	}

	layout.Rows = append(layout.Rows, LayoutRow{Region: "Data", Start: dataStart, End: dataEnd, Description: "Cluster Data"})

	if slack := v.LocateVolumeSlack(); slack.Length > 0 {
		layout.Rows = append(layout.Rows, LayoutRow{
			Region:      "Slack",
			Start:       slack.Offset,
			End:         slack.End(),
			Description: "Volume Slack",
		})
	}

	return layout
}
