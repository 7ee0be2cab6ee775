package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
)

// The GCS client is abstracted behind small interfaces so the store can be
// unit tested without a real bucket.

// GCSClient abstracts the top-level *storage.Client.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts a *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle abstracts a *storage.ObjectHandle.
type GCSObjectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
}

// NewGCSClientAdapter makes a concrete *storage.Client conform to the
// GCSClient interface.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

type gcsClientAdapter struct {
	client *storage.Client
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) NewReader(ctx context.Context) (io.ReadCloser, error) {
	return a.handle.NewReader(ctx)
}

func (a *gcsObjectHandleAdapter) NewWriter(ctx context.Context) io.WriteCloser {
	return a.handle.NewWriter(ctx)
}

// GCSStoreConfig holds configuration for the GCS-backed session store.
type GCSStoreConfig struct {
	BucketName   string
	ObjectPrefix string
}

// GCSStore keeps session blobs in a Google Cloud Storage bucket, one object
// per identity hash.
type GCSStore struct {
	client GCSClient
	config GCSStoreConfig
	logger zerolog.Logger
}

// NewGCSStore creates a session store backed by Google Cloud Storage.
func NewGCSStore(client GCSClient, config GCSStoreConfig, logger zerolog.Logger) (*GCSStore, error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if config.BucketName == "" {
		return nil, errors.New("GCS bucket name is required")
	}
	return &GCSStore{
		client: client,
		config: config,
		logger: logger.With().Str("component", "GCSStore").Logger(),
	}, nil
}

// Load reads the blob for id.
func (s *GCSStore) Load(ctx context.Context, id string) ([]byte, error) {
	name := s.objectName(id)
	reader, err := s.client.Bucket(s.config.BucketName).Object(name).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("opening session object %s: %w", name, err)
	}
	defer func() { _ = reader.Close() }()

	blob, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("reading session object %s: %w", name, err)
	}

	s.logger.Info().Str("object", name).Msg("Found existing session object.")
	return blob, nil
}

// Save writes the blob for id, replacing any previous object.
func (s *GCSStore) Save(ctx context.Context, id string, blob []byte) error {
	name := s.objectName(id)
	writer := s.client.Bucket(s.config.BucketName).Object(name).NewWriter(ctx)

	if _, err := writer.Write(blob); err != nil {
		_ = writer.Close()
		return fmt.Errorf("writing session object %s: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalizing session object %s: %w", name, err)
	}
	return nil
}

func (s *GCSStore) objectName(id string) string {
	return path.Join(s.config.ObjectPrefix, "session."+id+".json")
}
