// Package distributor resolves a job's artifact URLs (pipeline binary,
// compiled WASM functions) against object storage and reads them back.
// It does not send anything to node agents: chunked upload is done by
// pkg/rpc and the per-node fan-out by pkg/scheduler.
package distributor

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/fluxgrid/fluxgrid/pkg/log"
)

// GCSDistributor satisfies scheduler.BinarySource by reading artifacts
// from Google Cloud Storage. URLs are in the form gs://bucket/object.
type GCSDistributor struct {
	client *storage.Client
}

// NewGCSDistributor dials a GCS client using ambient application
// default credentials.
func NewGCSDistributor(ctx context.Context) (*GCSDistributor, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("distributor: create GCS client: %w", err)
	}
	return &GCSDistributor{client: client}, nil
}

// Close releases the underlying GCS client.
func (d *GCSDistributor) Close() error {
	return d.client.Close()
}

func parseGCSURL(raw string) (bucket, object string, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", fmt.Errorf("distributor: invalid artifact url %q: %w", raw, err)
	}
	if u.Scheme != "gs" {
		return "", "", fmt.Errorf("distributor: unsupported artifact url scheme %q, want gs://", u.Scheme)
	}
	object = strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || object == "" {
		return "", "", fmt.Errorf("distributor: artifact url %q missing bucket or object", raw)
	}
	return u.Host, object, nil
}

// readCloserWithCancel ties a reader's lifetime to the context used to
// open it: canceling before Close would truncate the read, so cancel is
// deferred to Close instead.
type readCloserWithCancel struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (r *readCloserWithCancel) Close() error {
	err := r.ReadCloser.Close()
	r.cancel()
	return err
}

// OpenPipelineBinary streams a compiled pipeline executable out of GCS.
func (d *GCSDistributor) OpenPipelineBinary(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	bucket, object, err := parseGCSURL(rawURL)
	if err != nil {
		return nil, 0, err
	}

	ctx, cancel := context.WithCancel(ctx)
	obj := d.client.Bucket(bucket).Object(object)

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		cancel()
		return nil, 0, fmt.Errorf("distributor: stat %s: %w", rawURL, err)
	}

	r, err := obj.NewReader(ctx)
	if err != nil {
		cancel()
		return nil, 0, fmt.Errorf("distributor: open %s: %w", rawURL, err)
	}

	log.Logger.Debug().Str("url", rawURL).Int64("size", attrs.Size).Msg("opened pipeline binary")
	return &readCloserWithCancel{ReadCloser: r, cancel: cancel}, attrs.Size, nil
}

// ReadWasm fetches the compiled WASM function bundle in full; these are
// small enough not to warrant streaming.
func (d *GCSDistributor) ReadWasm(ctx context.Context, rawURL string) ([]byte, error) {
	bucket, object, err := parseGCSURL(rawURL)
	if err != nil {
		return nil, err
	}

	r, err := d.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("distributor: open %s: %w", rawURL, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("distributor: read %s: %w", rawURL, err)
	}
	return data, nil
}
