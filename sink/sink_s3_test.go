package sink

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type fakeS3API struct {
	mu sync.Mutex

	calls    int
	lastIn   *s3.PutObjectInput
	lastBody []byte
	err      error
}

func (f *fakeS3API) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastIn = in
	if f.err != nil {
		return nil, f.err
	}
	if in.Body != nil {
		f.lastBody, _ = io.ReadAll(in.Body)
	}
	return &s3.PutObjectOutput{}, nil
}

func TestNewS3_Panics(t *testing.T) {
	mustPanic := func(name string, fn func()) {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatalf("%s: expected panic", name)
			}
		}()
		fn()
	}
	mustPanic("nil client", func() { NewS3(nil, "b", "") })
	mustPanic("empty bucket", func() { NewS3(&fakeS3API{}, " ", "") })
}

func TestS3_PutBuildsKeyAndHeaders(t *testing.T) {
	f := &fakeS3API{}
	s := NewS3(f, "archive", "/petitions/")

	err := s.Put(context.Background(), Object{
		Key:         "/validations/2026/x.parquet",
		Body:        []byte("abc"),
		ContentType: "application/vnd.apache.parquet",
		Metadata:    map[string]string{"rows": "3"},
	})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	if got := aws.ToString(f.lastIn.Bucket); got != "archive" {
		t.Fatalf("bucket = %q", got)
	}
	if got := aws.ToString(f.lastIn.Key); got != "petitions/validations/2026/x.parquet" {
		t.Fatalf("key = %q", got)
	}
	if aws.ToInt64(f.lastIn.ContentLength) != 3 || string(f.lastBody) != "abc" {
		t.Fatalf("unexpected body len=%d body=%q", aws.ToInt64(f.lastIn.ContentLength), f.lastBody)
	}
	if aws.ToString(f.lastIn.ContentType) != "application/vnd.apache.parquet" {
		t.Fatalf("content type = %q", aws.ToString(f.lastIn.ContentType))
	}
	if f.lastIn.Metadata["rows"] != "3" {
		t.Fatalf("metadata not forwarded: %#v", f.lastIn.Metadata)
	}
}

func TestS3_PutWithoutPrefixOrContentType(t *testing.T) {
	f := &fakeS3API{}
	s := NewS3(f, "archive", "")
	if err := s.Put(context.Background(), Object{Key: "k", Body: []byte("x")}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if aws.ToString(f.lastIn.Key) != "k" || f.lastIn.ContentType != nil {
		t.Fatalf("unexpected input %#v", f.lastIn)
	}
}

func TestS3_PutErrors(t *testing.T) {
	s := NewS3(&fakeS3API{}, "archive", "")
	if err := s.Put(context.Background(), Object{}); err == nil {
		t.Fatalf("expected error for empty key")
	}

	boom := errors.New("denied")
	s = NewS3(&fakeS3API{err: boom}, "archive", "")
	if err := s.Put(context.Background(), Object{Key: "k"}); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}
