package blob

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte)}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	data, ok := f.objects[aws.ToString(in.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for key := range f.objects {
		if strings.HasPrefix(key, aws.ToString(in.Prefix)) {
			out.Contents = append(out.Contents, types.Object{Key: aws.String(key)})
		}
	}
	return out, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *s3.DeleteObjectsInput, _ ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range in.Delete.Objects {
		delete(f.objects, aws.ToString(id.Key))
	}
	return &s3.DeleteObjectsOutput{}, nil
}

func TestS3PutOpenDeleteUsesPrefix(t *testing.T) {
	fake := newFakeS3()
	store := newS3WithClient(fake, "reels", "/prod/")
	ctx := context.Background()

	if _, err := store.Put(ctx, CombinedKey("j1"), strings.NewReader("video")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if _, ok := fake.objects["prod/jobs/j1/combined.mp4"]; !ok {
		t.Fatalf("expected prefixed key, have %v", fake.objects)
	}
	if got := store.Location(CombinedKey("j1")); got != "s3://reels/prod/jobs/j1/combined.mp4" {
		t.Fatalf("unexpected location %q", got)
	}

	rc, err := store.Open(ctx, CombinedKey("j1"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "video" {
		t.Fatalf("unexpected data %q", data)
	}

	if _, err := store.Put(ctx, "jobs/j10/final.mp4", strings.NewReader("other")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.DeletePrefix(ctx, JobPrefix("j1")); err != nil {
		t.Fatalf("DeletePrefix failed: %v", err)
	}
	if len(fake.objects) != 1 {
		t.Fatalf("expected only the other job's object to remain, have %v", fake.objects)
	}
	if _, err := store.Open(ctx, CombinedKey("j1")); err == nil {
		t.Fatal("expected missing object error")
	}
}
