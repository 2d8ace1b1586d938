package storage

import (
	"context"
	"io"
	"sort"

	gcs "cloud.google.com/go/storage"
	"github.com/pkg/errors"
	"google.golang.org/api/iterator"
)

// GCSStore is a Store over one Cloud Storage bucket.
type GCSStore struct {
	bucket *gcs.BucketHandle
	name   string
}

// NewGCSStore builds a Store for bucket from an existing client.
func NewGCSStore(client *gcs.Client, bucket string) *GCSStore {
	return &GCSStore{bucket: client.Bucket(bucket), name: bucket}
}

func (g *GCSStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	r, err := g.bucket.Object(key).NewReader(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil, errors.Wrapf(ErrNotExist, "open %s", g.URI(key))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", g.URI(key))
	}
	return r, nil
}

func (g *GCSStore) Put(ctx context.Context, key string, r io.Reader, meta map[string]string) error {
	w := g.bucket.Object(key).NewWriter(ctx)
	w.Metadata = meta
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return errors.Wrapf(err, "failed to upload to %s", g.URI(key))
	}
	if err := w.Close(); err != nil {
		return errors.Wrapf(err, "failed to finalize %s", g.URI(key))
	}
	return nil
}

func (g *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	it := g.bucket.Objects(ctx, &gcs.Query{Prefix: prefix})

	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "unable to list files in gcs bucket")
		}
		keys = append(keys, attrs.Name)
	}
	sort.Strings(keys)
	return keys, nil
}

func (g *GCSStore) Delete(ctx context.Context, key string) error {
	err := g.bucket.Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return errors.Wrapf(err, "failed to delete %s", g.URI(key))
	}
	return nil
}

func (g *GCSStore) URI(key string) string {
	return Location{Scheme: SchemeGCS, Bucket: g.name, Path: key}.String()
}
