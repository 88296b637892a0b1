// Package osutil contains file helpers for state that must survive a crash mid-write.
package osutil

import (
	"errors"
	"io"
	"os"
	"path/filepath"
)

// WriteSynced writes contents to path and fsyncs it before returning.
func WriteSynced(path string, contents []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	_, err = f.Write(contents)
	if err == nil {
		err = f.Sync()
	}
	closeErr := f.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// CopySynced copies src over dst and fsyncs dst.
func CopySynced(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	if err == nil {
		err = out.Sync()
	}
	closeErr := out.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// SyncDir fsyncs a directory so renames inside it are durable.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	err = d.Sync()
	// some platforms do not support fsync on directories
	if err != nil && (errors.Is(err, os.ErrInvalid) || errors.Is(err, os.ErrPermission)) {
		return nil
	}
	return err
}

// WriteFileAtomic replaces path with contents through a temp file and a rename,
// readers see either the old or the new contents.
func WriteFileAtomic(path string, contents []byte) error {
	dir := filepath.Dir(path)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}
	temp := path + ".tmp"
	err = WriteSynced(temp, contents)
	if err != nil {
		os.Remove(temp)
		return err
	}
	err = os.Rename(temp, path)
	if err != nil {
		os.Remove(temp)
		return err
	}
	return SyncDir(dir)
}
