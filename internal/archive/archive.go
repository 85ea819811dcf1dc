// Package archive bundles the artifact store into compressed tar archives
// so a rendered set can be moved between machines without the repository.
package archive

import (
	"archive/tar"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ulikunitz/xz"

	"github.com/FocuswithJustin/readmetex/core/errors"
)

// Create writes a tar.xz bundle of srcDir to dstPath. Entries are prefixed
// with the base name of srcDir and carry a uniform timestamp so bundling
// the same store twice yields comparable archives.
func Create(srcDir, dstPath string) error {
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return errors.NewIO("mkdir", filepath.Dir(dstPath), err)
	}

	out, err := os.Create(dstPath)
	if err != nil {
		return errors.NewIO("create", dstPath, err)
	}
	defer out.Close()

	xw, err := xz.NewWriter(out)
	if err != nil {
		return errors.Wrap(err, "initializing compressor")
	}
	defer xw.Close()

	tw := tar.NewWriter(xw)
	defer tw.Close()

	base := filepath.Base(srcDir)
	now := time.Now()

	err = filepath.Walk(srcDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		header, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		header.Name = base + "/" + filepath.ToSlash(rel)
		if info.IsDir() {
			header.Name += "/"
		}
		header.ModTime = now

		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "bundling artifact store")
	}

	if err := tw.Close(); err != nil {
		return errors.Wrap(err, "finalizing bundle")
	}
	if err := xw.Close(); err != nil {
		return errors.Wrap(err, "finalizing compressor")
	}
	return out.Close()
}

// Entry describes one file in a bundle.
type Entry struct {
	Name string
	Size int64
}

// Visitor is the callback for iterating bundle entries. Return true to
// stop iteration.
type Visitor func(header *tar.Header, content io.Reader) (stop bool, err error)

// Iterate opens a bundle and walks its entries.
func Iterate(path string, visitor Visitor) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.NewIO("open", path, err)
	}
	defer f.Close()

	xr, err := xz.NewReader(f)
	if err != nil {
		return errors.NewParse("bundle", path, err.Error())
	}

	tr := tar.NewReader(xr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.NewParse("bundle", path, err.Error())
		}
		stop, err := visitor(header, tr)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// List returns every regular file in a bundle.
func List(path string) ([]Entry, error) {
	var entries []Entry
	err := Iterate(path, func(header *tar.Header, _ io.Reader) (bool, error) {
		if header.Typeflag == tar.TypeReg {
			entries = append(entries, Entry{Name: header.Name, Size: header.Size})
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// ReadFile reads one file from a bundle by name, tolerating the leading
// directory prefix.
func ReadFile(path, name string) ([]byte, error) {
	var content []byte
	err := Iterate(path, func(header *tar.Header, r io.Reader) (bool, error) {
		entry := header.Name
		if idx := strings.Index(entry, "/"); idx >= 0 {
			entry = entry[idx+1:]
		}
		if entry == name || header.Name == name {
			var err error
			content, err = io.ReadAll(r)
			return true, err
		}
		return false, nil
	})
	if err != nil {
		return nil, err
	}
	if content == nil {
		return nil, errors.NewNotFound("bundle entry", name)
	}
	return content, nil
}
