// Package archive builds store-only zip packages from uploaded files.
package archive

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/minio/blake2b-simd"
)

// MaxNameLen is the longest file name accepted, in bytes.
const MaxNameLen = 255

// ErrInvalidName is returned for names which can't be written inside the
// staging directory as a single file.
var ErrInvalidName = errors.New("invalid name")

// File is a named stream to be archived.
type File struct {
	Name    string
	Content io.Reader
}

// Archive describes a finished package on disk.
type Archive struct {
	Path     string
	Size     int64
	Checksum string
}

// Builder stages files under tmpPath and publishes archives under filePath.
type Builder struct {
	tmpPath  string
	filePath string
}

// New returns a Builder. Both directories must already exist.
func New(tmpPath, filePath string) *Builder {
	return &Builder{tmpPath: tmpPath, filePath: filePath}
}

// CheckName returns ErrInvalidName if name is not a plain file name.
func CheckName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
	case len(name) > MaxNameLen:
	case strings.ContainsAny(name, "/\\\x00"):
	default:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidName, name)
}

// Path returns where the archive for id is published.
func (b *Builder) Path(id string) string {
	return filepath.Join(b.filePath, id+".zip")
}

// Build writes files into a staging directory named after id, then packs the
// directory into <id>.zip without compression. The staging directory and any
// temporary file are removed whether or not Build succeeds.
func (b *Builder) Build(ctx context.Context, id string, files []File) (a *Archive, err error) {
	for _, f := range files {
		if err := CheckName(f.Name); err != nil {
			return nil, err
		}
	}

	dst := b.Path(id)
	staging := filepath.Join(b.tmpPath, id)
	if err := os.Mkdir(staging, 0o700); err != nil {
		return nil, fmt.Errorf("create staging: %w", err)
	}
	defer func() {
		rerr := os.RemoveAll(staging)
		if rerr == nil || err != nil {
			return
		}
		// The archive must not outlive a failed build.
		os.Remove(dst)
		a, err = nil, fmt.Errorf("remove staging: %w", rerr)
	}()

	names, err := stage(ctx, staging, files)
	if err != nil {
		return nil, err
	}

	tf, err := os.CreateTemp(b.filePath, "parceltmp")
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	defer os.Remove(tf.Name())
	defer tf.Close()

	hs := blake2b.New512()
	zw := zip.NewWriter(io.MultiWriter(tf, hs))
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := add(zw, staging, name); err != nil {
			return nil, err
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("close archive: %w", err)
	}
	if err := tf.Sync(); err != nil {
		return nil, fmt.Errorf("sync archive: %w", err)
	}
	d, err := tf.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}

	// link instead of rename so an existing archive is never replaced.
	if err := os.Link(tf.Name(), dst); err != nil {
		return nil, fmt.Errorf("publish archive: %w", err)
	}

	return &Archive{
		Path:     dst,
		Size:     d.Size(),
		Checksum: base64.RawURLEncoding.EncodeToString(hs.Sum(nil)),
	}, nil
}

// stage writes every file into dir and returns the distinct names in upload
// order. A repeated name overwrites the earlier content.
func stage(ctx context.Context, dir string, files []File) ([]string, error) {
	seen := make(map[string]bool, len(files))
	names := make([]string, 0, len(files))
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := write(filepath.Join(dir, f.Name), f.Content); err != nil {
			return nil, fmt.Errorf("stage %q: %w", f.Name, err)
		}
		if !seen[f.Name] {
			seen[f.Name] = true
			names = append(names, f.Name)
		}
	}
	return names, nil
}

func write(name string, r io.Reader) error {
	f, err := os.Create(name)
	if err != nil {
		return err
	}
	if r != nil {
		if _, err := io.Copy(f, r); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

func add(zw *zip.Writer, dir, name string) error {
	f, err := os.Open(filepath.Join(dir, name))
	if err != nil {
		return fmt.Errorf("open staged %q: %w", name, err)
	}
	defer f.Close()
	d, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat staged %q: %w", name, err)
	}
	h, err := zip.FileInfoHeader(d)
	if err != nil {
		return err
	}
	h.Name = name
	h.Method = zip.Store
	w, err := zw.CreateHeader(h)
	if err != nil {
		return fmt.Errorf("add %q: %w", name, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("add %q: %w", name, err)
	}
	return nil
}
