package models

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
)

// File is a named payload submitted as part of a batch.
// Open may be called more than once; each call returns a fresh reader.
type File struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// FileFromPath returns a File backed by a path on disk, named by its base name.
func FileFromPath(path string) File {
	return File{
		Name: filepath.Base(path),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// FileFromBytes returns an in-memory File.
func FileFromBytes(name string, data []byte) File {
	return File{
		Name: name,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}
