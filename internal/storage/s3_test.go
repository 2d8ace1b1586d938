package storage

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type memObject struct {
	data []byte
	meta map[string]string
}

// fakeS3 serves the path-style S3 REST calls S3Store makes for one bucket.
// Listings are paged pageSize keys at a time.
type fakeS3 struct {
	bucket   string
	pageSize int

	mu        sync.Mutex
	objects   map[string]memObject
	listCalls int
	// dropPuts acknowledges uploads without storing them.
	dropPuts bool
}

type listBucketResult struct {
	XMLName     xml.Name    `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
	Name        string      `xml:"Name"`
	Prefix      string      `xml:"Prefix"`
	Marker      string      `xml:"Marker"`
	NextMarker  string      `xml:"NextMarker,omitempty"`
	IsTruncated bool        `xml:"IsTruncated"`
	Contents    []listEntry `xml:"Contents"`
}

type listEntry struct {
	Key  string `xml:"Key"`
	Size int    `xml:"Size"`
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != f.bucket {
		s3Error(w, http.StatusNotFound, "NoSuchBucket")
		return
	}

	switch {
	case key == "" && r.Method == http.MethodGet:
		f.list(w, r)
	case r.Method == http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			s3Error(w, http.StatusBadRequest, "IncompleteBody")
			return
		}
		meta := map[string]string{}
		for k := range r.Header {
			if name, ok := strings.CutPrefix(strings.ToLower(k), "x-amz-meta-"); ok {
				meta[name] = r.Header.Get(k)
			}
		}
		if !f.dropPuts {
			f.objects[key] = memObject{data: data, meta: meta}
		}
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			if r.Method == http.MethodHead {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			s3Error(w, http.StatusNotFound, "NoSuchKey")
			return
		}
		for k, v := range obj.meta {
			w.Header().Set("X-Amz-Meta-"+k, v)
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			w.Write(obj.data)
		}
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		s3Error(w, http.StatusMethodNotAllowed, "MethodNotAllowed")
	}
}

func (f *fakeS3) object(key string) (memObject, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	obj, ok := f.objects[key]
	return obj, ok
}

func (f *fakeS3) lists() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listCalls
}

func (f *fakeS3) list(w http.ResponseWriter, r *http.Request) {
	f.listCalls++
	prefix := r.URL.Query().Get("prefix")
	marker := r.URL.Query().Get("marker")

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) && k > marker {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	res := listBucketResult{Name: f.bucket, Prefix: prefix, Marker: marker}
	if len(keys) > f.pageSize {
		keys = keys[:f.pageSize]
		res.IsTruncated = true
		res.NextMarker = keys[len(keys)-1]
	}
	for _, k := range keys {
		res.Contents = append(res.Contents, listEntry{Key: k, Size: len(f.objects[k].data)})
	}

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, xml.Header)
	xml.NewEncoder(w).Encode(res)
}

func s3Error(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	fmt.Fprintf(w, "%s<Error><Code>%s</Code><Message>%s</Message></Error>", xml.Header, code, code)
}

// newFakeS3 starts a fake bucket and returns a resolver pointed at it.
func newFakeS3(t *testing.T, bucket string) (*fakeS3, *Resolver) {
	fake := &fakeS3{bucket: bucket, pageSize: 2, objects: map[string]memObject{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	t.Setenv("AWS_ACCESS_KEY_ID", "deb-test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "deb-test")
	t.Setenv("AWS_SESSION_TOKEN", "")
	t.Setenv("AWS_EC2_METADATA_DISABLED", "true")

	r := NewResolver(Options{Region: "us-east-1", Endpoint: srv.URL})
	t.Cleanup(func() { r.Close() })
	return fake, r
}

func s3Store(t *testing.T, r *Resolver, bucket string) *S3Store {
	st, err := r.Store(context.Background(), Location{Scheme: SchemeS3, Bucket: bucket})
	require.NoError(t, err)
	s3st, ok := st.(*S3Store)
	require.True(t, ok)
	return s3st
}

func TestS3StorePutOpenDelete(t *testing.T) {
	ctx := context.Background()
	fake, r := newFakeS3(t, "deb-test")
	st := s3Store(t, r, "deb-test")

	key := "out/passengers/part-00000-run.snappy.parquet"
	require.NoError(t, st.Put(ctx, key, strings.NewReader("PAR1"), map[string]string{
		"record-count": "3",
		"run-id":       "run",
	}))
	obj, ok := fake.object(key)
	require.True(t, ok)
	require.Equal(t, "3", obj.meta["record-count"])
	require.Equal(t, "run", obj.meta["run-id"])
	require.Equal(t, "s3://deb-test/"+key, st.URI(key))

	rc, err := st.Open(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, rc.Close())
	require.NoError(t, err)
	require.Equal(t, "PAR1", string(data))

	require.NoError(t, st.Delete(ctx, key))
	_, ok = fake.object(key)
	require.False(t, ok)
	require.NoError(t, st.Delete(ctx, key))

	_, err = st.Open(ctx, key)
	require.ErrorIs(t, err, ErrNotExist)
}

func TestS3StorePutVerifiesUpload(t *testing.T) {
	fake, r := newFakeS3(t, "deb-test")
	fake.dropPuts = true
	st := s3Store(t, r, "deb-test")

	err := st.Put(context.Background(), "out/lost.parquet", strings.NewReader("x"), nil)
	require.ErrorContains(t, err, "upload verification failed for s3://deb-test/out/lost.parquet")
}

func TestS3StoreListPages(t *testing.T) {
	ctx := context.Background()
	fake, r := newFakeS3(t, "deb-test")
	st := s3Store(t, r, "deb-test")

	want := []string{"out/a", "out/b", "out/c", "out/d", "out/e"}
	for _, k := range []string{"out/e", "out/c", "other/x", "out/a", "out/d", "out/b"} {
		require.NoError(t, st.Put(ctx, k, strings.NewReader(k), nil))
	}

	keys, err := st.List(ctx, "out/")
	require.NoError(t, err)
	require.Equal(t, want, keys)
	require.Equal(t, 3, fake.lists())

	keys, err = st.List(ctx, "missing/")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestResolverOpensS3Objects(t *testing.T) {
	_, r := newFakeS3(t, "deb-test")
	st := s3Store(t, r, "deb-test")
	require.NoError(t, st.Put(context.Background(), "in/passengers.csv", strings.NewReader("email\nj@x.com\n"), nil))

	rc, err := r.Open(context.Background(), "s3://deb-test/in/passengers.csv")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, "email\nj@x.com\n", string(data))

	_, err = r.Open(context.Background(), "s3://deb-test/in/missing.csv")
	require.ErrorIs(t, err, ErrNotExist)
}
