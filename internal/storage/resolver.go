package storage

import (
	"context"
	"io"
	"strings"
	"sync"

	gcs "cloud.google.com/go/storage"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Options configures the remote clients a Resolver creates.
type Options struct {
	// Region is the AWS region used for s3:// locations.
	Region string
	// Endpoint overrides the S3 endpoint, e.g. for MinIO.
	Endpoint string
}

// Resolver maps locations to Stores. Remote clients are created on first
// use and shared for the lifetime of the resolver.
type Resolver struct {
	opts  Options
	local *LocalStore

	mu   sync.Mutex
	sess *session.Session
	gcs  *gcs.Client
}

// NewResolver returns a resolver. Call Close when the run is over.
func NewResolver(opts Options) *Resolver {
	return &Resolver{opts: opts, local: NewLocalStore()}
}

// Store returns the Store that serves loc.
func (r *Resolver) Store(ctx context.Context, loc Location) (Store, error) {
	switch loc.Scheme {
	case SchemeFile:
		return r.local, nil
	case SchemeS3:
		sess, err := r.awsSession()
		if err != nil {
			return nil, err
		}
		return NewS3Store(sess, loc.Bucket), nil
	case SchemeGCS:
		client, err := r.gcsClient(ctx)
		if err != nil {
			return nil, err
		}
		return NewGCSStore(client, loc.Bucket), nil
	}
	return nil, errors.Errorf("no store for scheme %q", loc.Scheme)
}

// Open parses raw and streams the object it names.
func (r *Resolver) Open(ctx context.Context, raw string) (io.ReadCloser, error) {
	loc, err := ParseLocation(raw)
	if err != nil {
		return nil, err
	}
	st, err := r.Store(ctx, loc)
	if err != nil {
		return nil, err
	}
	return st.Open(ctx, loc.Path)
}

func (r *Resolver) awsSession() (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sess != nil {
		return r.sess, nil
	}
	cfg := &aws.Config{Region: aws.String(r.opts.Region)}
	if r.opts.Endpoint != "" {
		cfg.Endpoint = aws.String(r.opts.Endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create aws session")
	}
	r.sess = sess
	return sess, nil
}

func (r *Resolver) gcsClient(ctx context.Context) (*gcs.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gcs != nil {
		return r.gcs, nil
	}
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create gcs client")
	}
	r.gcs = client
	return client, nil
}

// Close releases remote clients.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gcs != nil {
		err := r.gcs.Close()
		r.gcs = nil
		return err
	}
	return nil
}

// Probe checks that loc is writable by putting and deleting a small object.
// A failed cleanup is logged, not returned.
func Probe(ctx context.Context, st Store, loc Location, logger *zap.Logger) error {
	key := loc.Join("_probe-" + uuid.NewString()).Path
	logger.Debug("probing destination", zap.String("key", st.URI(key)))

	if err := st.Put(ctx, key, strings.NewReader("connection test"), nil); err != nil {
		return errors.Wrapf(err, "destination %s is not writable", loc)
	}
	if err := st.Delete(ctx, key); err != nil {
		logger.Warn("failed to clean up probe object", zap.String("key", st.URI(key)), zap.Error(err))
	}
	return nil
}
