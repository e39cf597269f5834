package fatslack

import (
	"errors"
	"io/fs"
)

// GoFile adds fs.ReadDirFile to File.
type GoFile struct {
	*File
}

func (g GoFile) ReadDir(n int) ([]fs.DirEntry, error) {
	entries, err := g.File.Readdir(n)

	goEntries := make([]fs.DirEntry, len(entries))
	for i, e := range entries {
		goEntries[i] = fs.FileInfoToDirEntry(e)
	}

	return goEntries, err
}

// GoFs wraps Fs to be compatible with fs.FS.
type GoFs struct {
	*Fs
}

// NewGoFs opens the files of vol as fs.FS compatible filesystem.
func NewGoFs(vol *Volume) (*GoFs, error) {
	fatFs, err := NewFs(vol)
	if err != nil {
		return nil, err
	}

	return &GoFs{fatFs}, nil
}

func (g GoFs) Open(name string) (fs.File, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrInvalid}
	}

	file, err := g.Fs.Open(name)
	if err != nil {
		return nil, err
	}

	f, ok := file.(*File)
	if !ok {
		return nil, errors.New("invalid File implementation")
	}

	return GoFile{f}, nil
}

// Stat implements fs.StatFS.
func (g GoFs) Stat(name string) (fs.FileInfo, error) {
	if !fs.ValidPath(name) {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrInvalid}
	}
	return g.Fs.Stat(name)
}
