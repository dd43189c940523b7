package parcel

import (
	"io"
	"time"
)

// File is a single named upload.
type File struct {
	Name    string
	Content io.Reader
}

// Package represents an uploaded batch of files once it has been archived and
// registered.
type Package struct {
	ID       string
	Token    string
	Path     string
	Size     int64
	Checksum string
	Expires  time.Time
}
