package fatslack

import (
	"io"
	"os"

	"github.com/aligator/fatslack/checkpoint"
	"github.com/spf13/afero"
)

// MBRSectorSize is the fixed sector size used by the partition table.
// LBA values in the MBR always count 512 byte sectors.
const MBRSectorSize = 512

// Device is the raw backing store of an Image.
// afero.File and *os.File satisfy it.
// Generated mock using mockgen:
//  mockgen -source=image.go -destination=device_mock_test.go -package fatslack
type Device interface {
	io.ReaderAt
	io.WriterAt
}

// Image is a byte addressable disk image. All reads and writes of the package go through it
// and are checked against the image size.
type Image struct {
	dev    Device
	size   int64
	closer io.Closer
	name   string
}

// NewImage wraps a device of the given size.
func NewImage(dev Device, size int64) *Image {
	img := &Image{
		dev:  dev,
		size: size,
	}
	if c, ok := dev.(io.Closer); ok {
		img.closer = c
	}
	return img
}

// OpenImage opens the image at path read-write.
func OpenImage(fs afero.Fs, path string) (*Image, error) {
	f, err := fs.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrIO)
	}

	stat, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, checkpoint.Wrap(err, ErrIO)
	}

	img := NewImage(f, stat.Size())
	img.name = path
	return img, nil
}

// Name returns the path the image was opened from, if any.
func (img *Image) Name() string {
	return img.name
}

// Size returns the size of the image in bytes.
func (img *Image) Size() int64 {
	return img.size
}

// Close closes the underlying device if it can be closed.
func (img *Image) Close() error {
	if img.closer == nil {
		return nil
	}
	return checkpoint.From(img.closer.Close())
}

func (img *Image) checkBounds(off, length int64) error {
	if off < 0 || length < 0 || off+length > img.size {
		return checkpoint.Newf(ErrOutOfBounds, "[%d, %d) outside of image [0, %d)", off, off+length, img.size)
	}
	return nil
}

// ReadAt reads exactly len(p) bytes at off.
func (img *Image) ReadAt(p []byte, off int64) (int, error) {
	if err := img.checkBounds(off, int64(len(p))); err != nil {
		return 0, err
	}

	n, err := img.dev.ReadAt(p, off)
	if n == len(p) {
		// io.ReaderAt may return io.EOF together with a full buffer.
		return n, nil
	}
	if err == nil || err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return n, checkpoint.Wrap(err, ErrShortRead)
}

// WriteAt writes all of p at off.
func (img *Image) WriteAt(p []byte, off int64) (int, error) {
	if err := img.checkBounds(off, int64(len(p))); err != nil {
		return 0, err
	}

	n, err := img.dev.WriteAt(p, off)
	if err != nil {
		return n, checkpoint.Wrap(err, ErrShortWrite)
	}
	if n != len(p) {
		return n, checkpoint.Newf(ErrShortWrite, "wrote %d of %d bytes at %d", n, len(p), off)
	}
	return n, nil
}

// ReadSector reads the sector with the given index and size.
func (img *Image) ReadSector(sector uint64, sectorSize int) ([]byte, error) {
	buf := make([]byte, sectorSize)
	_, err := img.ReadAt(buf, int64(sector)*int64(sectorSize))
	if err != nil {
		return nil, err
	}
	return buf, nil
}
