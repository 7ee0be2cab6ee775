package session_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/go-instaproxy/pkg/session"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGCS is an in-memory implementation of the GCS client abstraction.
type fakeGCS struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeGCS() *fakeGCS {
	return &fakeGCS{objects: make(map[string][]byte)}
}

func (f *fakeGCS) Bucket(name string) session.GCSBucketHandle {
	return &fakeBucket{gcs: f, bucket: name}
}

type fakeBucket struct {
	gcs    *fakeGCS
	bucket string
}

func (b *fakeBucket) Object(name string) session.GCSObjectHandle {
	return &fakeObject{gcs: b.gcs, key: b.bucket + "/" + name}
}

type fakeObject struct {
	gcs *fakeGCS
	key string
}

func (o *fakeObject) NewReader(_ context.Context) (io.ReadCloser, error) {
	o.gcs.mu.Lock()
	defer o.gcs.mu.Unlock()
	blob, ok := o.gcs.objects[o.key]
	if !ok {
		return nil, storage.ErrObjectNotExist
	}
	return io.NopCloser(bytes.NewReader(blob)), nil
}

func (o *fakeObject) NewWriter(_ context.Context) io.WriteCloser {
	return &fakeWriter{gcs: o.gcs, key: o.key}
}

type fakeWriter struct {
	gcs *fakeGCS
	key string
	buf bytes.Buffer
}

func (w *fakeWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *fakeWriter) Close() error {
	w.gcs.mu.Lock()
	defer w.gcs.mu.Unlock()
	w.gcs.objects[w.key] = w.buf.Bytes()
	return nil
}

func TestGCSStore(t *testing.T) {
	logger := zerolog.Nop()
	ctx := context.Background()

	t.Run("Requires a client and bucket", func(t *testing.T) {
		_, err := session.NewGCSStore(nil, session.GCSStoreConfig{BucketName: "b"}, logger)
		assert.Error(t, err)

		_, err = session.NewGCSStore(newFakeGCS(), session.GCSStoreConfig{}, logger)
		assert.Error(t, err)
	})

	t.Run("Load before any Save reports no session", func(t *testing.T) {
		store, err := session.NewGCSStore(newFakeGCS(), session.GCSStoreConfig{BucketName: "sessions"}, logger)
		require.NoError(t, err)

		_, err = store.Load(ctx, "abc123")
		assert.ErrorIs(t, err, session.ErrNoSession)
	})

	t.Run("Save then Load round-trips the blob", func(t *testing.T) {
		gcs := newFakeGCS()
		store, err := session.NewGCSStore(gcs, session.GCSStoreConfig{
			BucketName:   "sessions",
			ObjectPrefix: "instaproxy",
		}, logger)
		require.NoError(t, err)

		require.NoError(t, store.Save(ctx, "abc123", []byte("blob-v1")))
		require.NoError(t, store.Save(ctx, "abc123", []byte("blob-v2")))

		blob, err := store.Load(ctx, "abc123")
		require.NoError(t, err)
		assert.Equal(t, []byte("blob-v2"), blob)

		// One object per identity hash, under the configured prefix.
		_, ok := gcs.objects["sessions/instaproxy/session.abc123.json"]
		assert.True(t, ok)
	})
}
