package fatslack

import (
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/aligator/fatslack/checkpoint"
	"github.com/spf13/afero"
)

// File is a file or directory opened read-only through Fs.
type File struct {
	fs     *Fs
	node   *Node
	closed bool

	// chain holds the clusters of a regular file, children the listable entries of a directory.
	chain    []uint32
	children []*Node

	offset int64
}

func newFile(fs *Fs, node *Node) (*File, error) {
	f := &File{
		fs:   fs,
		node: node,
	}

	if node.Entry.IsDir() {
		for _, c := range node.Children {
			child := &fs.tree.Nodes[c]
			if child.Entry.IsDotEntry() || child.Entry.IsVolumeLabel() {
				continue
			}
			f.children = append(f.children, child)
		}
		return f, nil
	}

	if node.Entry.FirstCluster == 0 {
		return f, nil
	}

	chain, err := fs.vol.Table().FollowChain(node.Entry.FirstCluster)
	if err != nil {
		return nil, checkpoint.Wrap(err, fmt.Errorf("could not open %s", node.Path))
	}
	f.chain = chain
	return f, nil
}

func (f *File) pathError(op string, err error) error {
	return checkpoint.From(&os.PathError{Op: op, Path: f.node.Path, Err: err})
}

func (f *File) size() int64 {
	return int64(f.node.Entry.Size)
}

func (f *File) Close() error {
	if f.closed {
		return f.pathError("close", os.ErrClosed)
	}
	f.closed = true
	f.chain = nil
	f.children = nil
	f.offset = 0
	return nil
}

// readAt reads the file content at off cluster by cluster.
// It returns io.EOF if p reaches beyond the file size.
func (f *File) readAt(p []byte, off int64) (int, error) {
	if f.closed {
		return 0, f.pathError("read", os.ErrClosed)
	}
	if f.node.Entry.IsDir() {
		return 0, f.pathError("read", syscall.EISDIR)
	}
	if off < 0 {
		return 0, f.pathError("read", syscall.EINVAL)
	}
	if off >= f.size() {
		return 0, io.EOF
	}

	want := int64(len(p))
	if off+want > f.size() {
		want = f.size() - off
	}

	bs := f.fs.vol.Boot
	clusterSize := bs.ClusterSize()

	var n int64
	for n < want {
		pos := off + n
		idx := pos / clusterSize
		if idx >= int64(len(f.chain)) {
			return int(n), checkpoint.Newf(ErrCorruptChain, "%s ends after %d clusters but holds %d bytes", f.node.Path, len(f.chain), f.size())
		}

		inner := pos % clusterSize
		chunk := clusterSize - inner
		if chunk > want-n {
			chunk = want - n
		}

		if _, err := f.fs.vol.View.ReadAt(p[n:n+chunk], bs.ClusterOffset(f.chain[idx])+inner); err != nil {
			return int(n), checkpoint.Wrap(err, fmt.Errorf("could not read %s", f.node.Path))
		}
		n += chunk
	}

	if n < int64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

func (f *File) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	n, err = f.readAt(p, f.offset)
	f.offset += int64(n)

	// Data followed by the end of the file is a complete read.
	if err == io.EOF && n > 0 {
		return n, nil
	}
	return n, err
}

func (f *File) ReadAt(p []byte, off int64) (n int, err error) {
	return f.readAt(p, off)
}

// Seek jumps to a specific offset in the file. This affects all Read operation except ReadAt.
// May return a syscall.EINVAL error if the whence value is invalid.
// May return an afero.ErrOutOfRange error if the offset is negative.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if f.closed {
		return 0, f.pathError("seek", os.ErrClosed)
	}

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset = f.offset + offset
	case io.SeekEnd:
		offset = f.size() + offset
	default:
		return 0, checkpoint.Wrap(f.pathError("seek", syscall.EINVAL), fmt.Errorf("offset: %v, whence: %v", offset, whence))
	}

	if offset < 0 {
		return 0, checkpoint.Wrap(afero.ErrOutOfRange, fmt.Errorf("offset: %v, whence: %v", offset, whence))
	}

	f.offset = offset
	return offset, nil
}

func (f *File) Write(p []byte) (n int, err error) {
	return 0, f.pathError("write", syscall.EPERM)
}

func (f *File) WriteAt(p []byte, off int64) (n int, err error) {
	return 0, f.pathError("write", syscall.EPERM)
}

func (f *File) WriteString(s string) (ret int, err error) {
	return f.Write([]byte(s))
}

func (f *File) Truncate(size int64) error {
	return f.pathError("truncate", syscall.EPERM)
}

func (f *File) Sync() error {
	return nil
}

func (f *File) Name() string {
	return f.node.Entry.Name
}

// Readdir reads the contents of a directory.
// For count > 0 at most count entries are returned and io.EOF once nothing is left.
// For count <= 0 all remaining entries are returned.
// May return syscall.ENOTDIR if the current File is no directory.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	if f.closed {
		return nil, f.pathError("readdir", os.ErrClosed)
	}
	if !f.node.Entry.IsDir() {
		return nil, f.pathError("readdir", syscall.ENOTDIR)
	}

	start := int(f.offset)
	end := len(f.children)
	if start > end {
		start = end
	}
	if count > 0 {
		if start >= end {
			return []os.FileInfo{}, io.EOF
		}
		if start+count < end {
			end = start + count
		}
	}

	result := make([]os.FileInfo, 0, end-start)
	for _, child := range f.children[start:end] {
		result = append(result, child.Entry.Info())
	}
	f.offset = int64(end)
	return result, nil
}

func (f *File) Readdirnames(count int) ([]string, error) {
	content, err := f.Readdir(count)

	names := make([]string, len(content))
	for i, entry := range content {
		names[i] = entry.Name()
	}
	return names, err
}

func (f *File) Stat() (os.FileInfo, error) {
	return f.node.Entry.Info(), nil
}
