package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/minio/minio-go/v7"

	sserr "github.com/StricklySoft/stricklysoft-authz/pkg/errors"
)

// Objects is the part of the minio client wrapper the archive uses.
type Objects interface {
	PutObject(ctx context.Context, bucket, object string, reader io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	ReadObject(ctx context.Context, bucket, object string) ([]byte, error)
	ListKeys(ctx context.Context, bucket, prefix string) ([]string, error)
	EnsureBucket(ctx context.Context, bucket string) error
}

// ObjectStore archives each entry as one JSON object in a bucket, under
// audit/YYYY/MM/DD/<unix-nanos>-<id>.json. Keys of one day sort in
// timestamp order.
type ObjectStore struct {
	objects Objects
	bucket  string
}

// NewObjectStore returns an archive writing to bucket.
func NewObjectStore(objects Objects, bucket string) *ObjectStore {
	return &ObjectStore{objects: objects, bucket: bucket}
}

// EnsureBucket creates the archive bucket when missing.
func (s *ObjectStore) EnsureBucket(ctx context.Context) error {
	return s.objects.EnsureBucket(ctx, s.bucket)
}

// ObjectKey returns the object name e is archived under.
func ObjectKey(e Entry) string {
	ts := e.Timestamp.UTC()
	return fmt.Sprintf("%s%d-%s.json", dayPrefix(ts), ts.UnixNano(), e.ID)
}

func dayPrefix(t time.Time) string {
	return t.UTC().Format("audit/2006/01/02/")
}

// Append implements Store.
func (s *ObjectStore) Append(ctx context.Context, e Entry) error {
	body, err := json.Marshal(e)
	if err != nil {
		return sserr.Wrap(err, sserr.CodeValidationFormat, "audit: entry is not JSON-encodable")
	}
	_, err = s.objects.PutObject(ctx, s.bucket, ObjectKey(e), bytes.NewReader(body), int64(len(body)),
		minio.PutObjectOptions{ContentType: "application/json"})
	return err
}

// ListDay reads back every entry archived on the UTC day of day, oldest
// first.
func (s *ObjectStore) ListDay(ctx context.Context, day time.Time) ([]Entry, error) {
	keys, err := s.objects.ListKeys(ctx, s.bucket, dayPrefix(day))
	if err != nil {
		return nil, err
	}
	slices.Sort(keys)

	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		data, err := s.objects.ReadObject(ctx, s.bucket, key)
		if err != nil {
			return nil, err
		}
		var e Entry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, sserr.Wrapf(err, sserr.CodeInternalStorage, "audit: archived object %s is not an entry", key)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
