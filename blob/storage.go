package blob

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

// DefaultHTTPTimeout bounds a single HTTP blob download.
const DefaultHTTPTimeout = 60 * time.Second

// Fetcher loads the bytes behind a location.
type Fetcher interface {
	Fetch(ctx context.Context, location string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, location string) ([]byte, error)

// Fetch calls f.
func (f FetcherFunc) Fetch(ctx context.Context, location string) ([]byte, error) {
	return f(ctx, location)
}

// Storage materializes blobs. It routes locations to the S3 fetcher (s3:// and
// *.amazonaws.com URLs), the HTTP fetcher (http:// and https://) or the local filesystem.
type Storage struct {
	http   Fetcher
	s3     Fetcher
	file   Fetcher
	logger zerolog.Logger
}

// StorageOption configures a Storage.
type StorageOption func(*Storage)

// WithHTTPClient uses the given client for http(s) locations.
func WithHTTPClient(client *http.Client) StorageOption {
	return func(s *Storage) {
		s.http = &httpFetcher{client: client}
	}
}

// WithS3 routes S3 locations to the given fetcher.
func WithS3(f Fetcher) StorageOption {
	return func(s *Storage) {
		s.s3 = f
	}
}

// WithFileFetcher replaces local file access, mostly useful in tests.
func WithFileFetcher(f Fetcher) StorageOption {
	return func(s *Storage) {
		s.file = f
	}
}

// NewStorage creates a Storage. Without options it can read local files and http(s) URLs.
func NewStorage(logger zerolog.Logger, opts ...StorageOption) *Storage {
	s := &Storage{
		http:   &httpFetcher{client: &http.Client{Timeout: DefaultHTTPTimeout}},
		file:   FetcherFunc(readFile),
		logger: logger.With().Str("component", "blob_storage").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Bytes returns the blob content, fetching it when the blob is location-backed.
func (s *Storage) Bytes(ctx context.Context, b *Blob) ([]byte, error) {
	if b == nil {
		return nil, fmt.Errorf("blob is nil")
	}
	if b.data != nil {
		return b.data, nil
	}

	loc := b.location
	var f Fetcher
	switch {
	case IsS3URL(loc):
		if s.s3 == nil {
			return nil, fmt.Errorf("no S3 storage configured for %s", loc)
		}
		f = s.s3
	case strings.HasPrefix(loc, "http://"), strings.HasPrefix(loc, "https://"):
		f = s.http
	default:
		f = s.file
	}

	s.logger.Debug().Str("location", loc).Msg("Fetching blob")
	data, err := f.Fetch(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("fetch blob %s: %w", loc, err)
	}
	return data, nil
}

// Materialize returns an in-memory copy of the blob. When the media type is unknown it
// is detected from the content.
func (s *Storage) Materialize(ctx context.Context, b *Blob) (*Blob, error) {
	data, err := s.Bytes(ctx, b)
	if err != nil {
		return nil, err
	}
	mimeType := b.mimeType
	if mimeType == "" {
		mimeType = mimetype.Detect(data).String()
		if i := strings.IndexByte(mimeType, ';'); i >= 0 {
			mimeType = mimeType[:i]
		}
		s.logger.Debug().Str("source", b.Source()).Str("mime_type", mimeType).Msg("Detected blob mime type")
	}
	return b.withData(data, mimeType), nil
}

type httpFetcher struct {
	client *http.Client
}

func (f *httpFetcher) Fetch(ctx context.Context, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func readFile(_ context.Context, location string) ([]byte, error) {
	location = strings.TrimPrefix(location, "file://")
	//nolint:gosec // G304: reading caller-provided attachment paths is the point
	return os.ReadFile(location)
}
