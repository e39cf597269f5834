// Package labimage creates MBR partitioned FAT32 disk images which can be used as
// starting point for a forensics lab.
package labimage

import (
	"errors"
	"fmt"
	"os"
	"path"
	"sort"

	"github.com/aligator/fatslack/checkpoint"
	"github.com/diskfs/go-diskfs/filesystem/fat32"
	"github.com/diskfs/go-diskfs/partition/mbr"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
)

const (
	// SectorSize is the logical sector size of all created images.
	SectorSize = 512

	KiB = 1024
	MiB = 1024 * KiB
)

// ErrInvalidSpec is returned by Create if the layout of a Spec cannot be built.
var ErrInvalidSpec = errors.New("invalid image layout")

// Spec describes the image to create. All sizes are in bytes, PartitionStart and
// PartitionSectors are in sectors.
type Spec struct {
	Size             int64
	PartitionStart   uint32
	PartitionSectors uint32
	// FilesystemSize may be smaller than the partition, the rest is volume slack.
	FilesystemSize int64
	Label          string

	// Dirs are created before Files, parents are created as needed.
	Dirs []string
	// Files maps absolute paths to their content.
	Files map[string][]byte
}

// DefaultSpec returns a 72 MiB image with one partition at LBA 2048 which is 70 MiB + 1 sector
// large but only formatted with 70 MiB.
func DefaultSpec() Spec {
	return Spec{
		Size:             72 * MiB,
		PartitionStart:   2048,
		PartitionSectors: 70*MiB/SectorSize + 1,
		FilesystemSize:   70 * MiB,
		Label:            "FLAGLAB",
		Dirs:             []string{"/1"},
		Files: map[string][]byte{
			"/README.TXT": []byte("Nothing to see here.\n"),
			"/1/T.TXT":    []byte("The flags are hidden somewhere on this disk.\n"),
		},
	}
}

func (s Spec) validate() error {
	partEnd := (int64(s.PartitionStart) + int64(s.PartitionSectors)) * SectorSize
	if s.PartitionStart == 0 {
		return checkpoint.Newf(ErrInvalidSpec, "partition must not start at sector 0")
	}
	if partEnd > s.Size {
		return checkpoint.Newf(ErrInvalidSpec, "partition ends at %d, behind the image end %d", partEnd, s.Size)
	}
	if s.FilesystemSize <= 0 || s.FilesystemSize > int64(s.PartitionSectors)*SectorSize {
		return checkpoint.Newf(ErrInvalidSpec, "filesystem size %d does not fit into the partition", s.FilesystemSize)
	}
	return nil
}

// Create writes a new image at p.
func Create(fs afero.Fs, p string, spec Spec) error {
	if err := spec.validate(); err != nil {
		return err
	}

	f, err := fs.OpenFile(p, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return checkpoint.From(err)
	}
	defer f.Close()

	if err := f.Truncate(spec.Size); err != nil {
		return checkpoint.Wrap(err, fmt.Errorf("could not resize %s to %d bytes", p, spec.Size))
	}

	table := &mbr.Table{
		LogicalSectorSize:  SectorSize,
		PhysicalSectorSize: SectorSize,
		Partitions: []*mbr.Partition{
			{
				Bootable: false,
				Type:     mbr.Fat32LBA,
				Start:    spec.PartitionStart,
				Size:     spec.PartitionSectors,
			},
		},
	}
	if err := table.Write(f, spec.Size); err != nil {
		return checkpoint.Wrap(err, errors.New("could not write the partition table"))
	}

	start := int64(spec.PartitionStart) * SectorSize
	vol, err := fat32.Create(f, spec.FilesystemSize, start, SectorSize, spec.Label)
	if err != nil {
		return checkpoint.Wrap(err, errors.New("could not create the filesystem"))
	}

	for _, dir := range spec.Dirs {
		if err := vol.Mkdir(dir); err != nil {
			return checkpoint.Wrap(err, fmt.Errorf("could not create %s", dir))
		}
	}

	// Sorted to get the same cluster allocation on every run.
	names := make([]string, 0, len(spec.Files))
	for name := range spec.Files {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if dir := path.Dir(name); dir != "/" {
			if err := vol.Mkdir(dir); err != nil {
				return checkpoint.Wrap(err, fmt.Errorf("could not create %s", dir))
			}
		}

		file, err := vol.OpenFile(name, os.O_CREATE|os.O_RDWR)
		if err != nil {
			return checkpoint.Wrap(err, fmt.Errorf("could not create %s", name))
		}
		if _, err := file.Write(spec.Files[name]); err != nil {
			return checkpoint.Wrap(err, fmt.Errorf("could not write %s", name))
		}
	}

	logrus.WithFields(logrus.Fields{
		"image":     p,
		"size":      spec.Size,
		"partition": fmt.Sprintf("%d+%d", spec.PartitionStart, spec.PartitionSectors),
	}).Info("lab image created")
	return nil
}
