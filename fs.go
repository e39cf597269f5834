package fatslack

import (
	"os"
	"path"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aligator/fatslack/checkpoint"
	"github.com/spf13/afero"
)

// Fs is a read-only afero.Fs over the files of one volume.
//
// The directory tree is read once when the Fs is created. File content is read through
// the cluster chains of the FAT and ends at the recorded file size, so bytes hidden in
// the file slack are never visible through it.
type Fs struct {
	vol  *Volume
	tree *Tree
}

// NewFs reads the directory tree of vol.
func NewFs(vol *Volume) (*Fs, error) {
	tree, err := vol.Tree()
	if err != nil {
		return nil, err
	}

	return &Fs{
		vol:  vol,
		tree: tree,
	}, nil
}

// Fs returns a read-only filesystem view of the current state of the volume.
func (v *Volume) Fs() (*Fs, error) {
	return NewFs(v)
}

func (fs *Fs) lookup(op, name string) (*Node, error) {
	node, err := fs.tree.Lookup(path.Clean("/" + filepath.ToSlash(name)))
	if err != nil {
		return nil, checkpoint.Wrap(err, &os.PathError{Op: op, Path: name, Err: os.ErrNotExist})
	}
	return node, nil
}

func readOnly(op, name string) error {
	return checkpoint.From(&os.PathError{Op: op, Path: name, Err: syscall.EPERM})
}

func (fs *Fs) Create(name string) (afero.File, error) {
	return nil, readOnly("create", name)
}

func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	return readOnly("mkdir", name)
}

func (fs *Fs) MkdirAll(path string, perm os.FileMode) error {
	return readOnly("mkdir", path)
}

// Open opens a file or directory for reading.
func (fs *Fs) Open(name string) (afero.File, error) {
	node, err := fs.lookup("open", name)
	if err != nil {
		return nil, err
	}

	f, err := newFile(fs, node)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// OpenFile only accepts os.O_RDONLY.
func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0 {
		return nil, readOnly("open", name)
	}
	return fs.Open(name)
}

func (fs *Fs) Remove(name string) error {
	return readOnly("remove", name)
}

func (fs *Fs) RemoveAll(path string) error {
	return readOnly("remove", path)
}

func (fs *Fs) Rename(oldname, newname string) error {
	return readOnly("rename", oldname)
}

func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	node, err := fs.lookup("stat", name)
	if err != nil {
		return nil, err
	}
	return node.Entry.Info(), nil
}

func (fs *Fs) Name() string {
	return "fatslack"
}

func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	return readOnly("chmod", name)
}

func (fs *Fs) Chown(name string, uid, gid int) error {
	return readOnly("chown", name)
}

func (fs *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	return readOnly("chtimes", name)
}
