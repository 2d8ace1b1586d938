// Package storage gives the pipeline a single view over the places it reads
// CSV inputs from and writes Parquet artifacts to: the local filesystem,
// Amazon S3 and Google Cloud Storage.
package storage

import (
	"context"
	"io"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrNotExist is returned by Open when the object is missing.
var ErrNotExist = errors.New("object does not exist")

// Scheme values understood by ParseLocation.
const (
	SchemeFile = "file"
	SchemeS3   = "s3"
	SchemeGCS  = "gs"
)

// Store is a bucket-scoped object store. Keys are slash separated object
// names for remote stores and filesystem paths for the local store.
type Store interface {
	// Open streams the object at key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Put writes r to key, replacing any existing object.
	Put(ctx context.Context, key string, r io.Reader, meta map[string]string) error
	// List returns every key under prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)
	// Delete removes the object at key. A missing object is not an error.
	Delete(ctx context.Context, key string) error
	// URI renders key as a location string that ParseLocation accepts.
	URI(key string) string
}

// Location is a parsed storage address.
type Location struct {
	Scheme string
	Bucket string
	// Path is the object key (prefix) for remote stores, or the
	// filesystem path for local ones.
	Path string
}

// ParseLocation parses s3://bucket/key, gs://bucket/key, file:///path or a
// bare filesystem path.
func ParseLocation(raw string) (Location, error) {
	if strings.TrimSpace(raw) == "" {
		return Location{}, errors.New("empty location")
	}
	if !strings.Contains(raw, "://") {
		return Location{Scheme: SchemeFile, Path: filepath.Clean(raw)}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Location{}, errors.Wrapf(err, "invalid location %q", raw)
	}
	switch u.Scheme {
	case SchemeFile:
		return Location{Scheme: SchemeFile, Path: filepath.Clean(u.Path)}, nil
	case SchemeS3, SchemeGCS:
		if u.Host == "" {
			return Location{}, errors.Errorf("location %q has no bucket", raw)
		}
		return Location{Scheme: u.Scheme, Bucket: u.Host, Path: strings.TrimPrefix(u.Path, "/")}, nil
	}
	return Location{}, errors.Errorf("unsupported scheme %q in %q", u.Scheme, raw)
}

// Join returns the location of name below l.
func (l Location) Join(name string) Location {
	out := l
	if l.Scheme == SchemeFile {
		out.Path = filepath.Join(l.Path, name)
		return out
	}
	out.Path = strings.TrimPrefix(path.Join(l.Path, name), "/")
	return out
}

// Prefix returns the key prefix that lists the objects below l.
func (l Location) Prefix() string {
	if l.Scheme == SchemeFile || l.Path == "" {
		return l.Path
	}
	return strings.TrimSuffix(l.Path, "/") + "/"
}

func (l Location) String() string {
	if l.Scheme == SchemeFile {
		return l.Path
	}
	return l.Scheme + "://" + l.Bucket + "/" + l.Path
}

// Base returns the last element of a key or path.
func Base(key string) string {
	return path.Base(filepath.ToSlash(key))
}
