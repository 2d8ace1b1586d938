package storage

import (
	"context"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/pkg/errors"
)

// S3Store is a Store over one S3 bucket.
type S3Store struct {
	bucket   string
	s3Client *s3.S3
	uploader *s3manager.Uploader
}

// NewS3Store builds a Store for bucket from an existing session.
func NewS3Store(sess *session.Session, bucket string) *S3Store {
	return &S3Store{
		bucket:   bucket,
		s3Client: s3.New(sess),
		uploader: s3manager.NewUploader(sess),
	}
}

// Open streams the object instead of buffering it in memory.
func (s *S3Store) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if aerr, ok := err.(awserr.Error); ok && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, errors.Wrapf(ErrNotExist, "open %s", s.URI(key))
		}
		return nil, errors.Wrapf(err, "failed to start download stream for %s", s.URI(key))
	}
	return obj.Body, nil
}

// Put uploads r and verifies the object is visible afterwards.
func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, meta map[string]string) error {
	var metadata map[string]*string
	if len(meta) > 0 {
		metadata = aws.StringMap(meta)
	}
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:   aws.String(s.bucket),
		Key:      aws.String(key),
		Body:     r,
		Metadata: metadata,
	})
	if err != nil {
		return errors.Wrapf(err, "failed to upload to %s", s.URI(key))
	}

	_, err = s.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(err, "upload verification failed for %s", s.URI(key))
	}
	return nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.s3Client.ListObjectsPagesWithContext(ctx,
		&s3.ListObjectsInput{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		},
		func(page *s3.ListObjectsOutput, lastPage bool) bool {
			for _, obj := range page.Contents {
				keys = append(keys, aws.StringValue(obj.Key))
			}
			return !lastPage
		})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list objects in %s", s.URI(prefix))
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return errors.Wrapf(err, "failed to delete %s", s.URI(key))
	}
	return nil
}

func (s *S3Store) URI(key string) string {
	return Location{Scheme: SchemeS3, Bucket: s.bucket, Path: key}.String()
}
