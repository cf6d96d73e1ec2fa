// Package blob provides attachment references: raw content addressed either by
// value or by an external location (local path, HTTP URL, S3 object).
//
// A Blob never performs I/O on its own. Bytes are materialized on demand through
// a Storage, which routes the location to the right fetcher.
package blob

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"strings"
)

// ErrInvalid is returned when a blob is constructed with neither or both of data and location.
var ErrInvalid = errors.New("blob: exactly one of data or location must be provided")

// Blob is an immutable reference to binary or text content.
type Blob struct {
	data     []byte
	location string
	mimeType string
	metadata map[string]any
}

// Option configures a Blob at construction time.
type Option func(*Blob)

// WithMimeType sets the declared media type, overriding any guess.
func WithMimeType(mimeType string) Option {
	return func(b *Blob) {
		b.mimeType = mimeType
	}
}

// WithMetadata attaches free-form metadata. The map is copied.
func WithMetadata(metadata map[string]any) Option {
	return func(b *Blob) {
		b.metadata = maps.Clone(metadata)
	}
}

// New creates a blob from either data or a location. Exactly one must be set.
func New(data []byte, location string, opts ...Option) (*Blob, error) {
	if (len(data) == 0) == (location == "") {
		return nil, ErrInvalid
	}
	b := &Blob{
		data:     data,
		location: location,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.metadata == nil {
		b.metadata = make(map[string]any)
	}
	return b, nil
}

// FromLocation creates a blob referencing external content. Unless a mime type is given,
// it is guessed from the location's extension.
func FromLocation(location string, opts ...Option) (*Blob, error) {
	location = strings.TrimSpace(location)
	b, err := New(nil, location, opts...)
	if err != nil {
		return nil, err
	}
	if b.mimeType == "" {
		b.mimeType = GuessType(location)
	}
	return b, nil
}

// FromData creates a blob holding content in memory.
func FromData(data []byte, mimeType string, opts ...Option) (*Blob, error) {
	return New(data, "", append([]Option{WithMimeType(mimeType)}, opts...)...)
}

// Data returns the in-memory content, or nil for location-backed blobs.
func (b *Blob) Data() []byte { return b.data }

// Location returns the external locator, or "" for in-memory blobs.
func (b *Blob) Location() string { return b.location }

// MimeType returns the declared or guessed media type. May be empty.
func (b *Blob) MimeType() string { return b.mimeType }

// Metadata returns a copy of the blob metadata.
func (b *Blob) Metadata() map[string]any { return maps.Clone(b.metadata) }

// Source returns metadata["source"] when set, otherwise the location.
func (b *Blob) Source() string {
	if src, ok := b.metadata["source"]; ok {
		if s, ok := src.(string); ok {
			return s
		}
		return fmt.Sprint(src)
	}
	return b.location
}

// IsImage reports whether the media type is image/*.
func (b *Blob) IsImage() bool { return strings.HasPrefix(b.mimeType, "image/") }

// IsPDF reports whether the media type is application/pdf.
func (b *Blob) IsPDF() bool { return b.mimeType == "application/pdf" }

// IsAudio reports whether the media type is audio/*.
func (b *Blob) IsAudio() bool { return strings.HasPrefix(b.mimeType, "audio/") }

// IsVideo reports whether the media type is video/*.
func (b *Blob) IsVideo() bool { return strings.HasPrefix(b.mimeType, "video/") }

// IsText reports whether the content is textual.
func (b *Blob) IsText() bool {
	if strings.HasPrefix(b.mimeType, "text/") {
		return true
	}
	switch b.mimeType {
	case "application/json", "application/javascript", "application/manifest+json",
		"application/xml", "application/x-sh", "application/x-python":
		return true
	}
	return false
}

// withData returns a copy holding the given bytes while keeping the original source.
func (b *Blob) withData(data []byte, mimeType string) *Blob {
	meta := maps.Clone(b.metadata)
	if _, ok := meta["source"]; !ok && b.location != "" {
		meta["source"] = b.location
	}
	if mimeType == "" {
		mimeType = b.mimeType
	}
	return &Blob{data: data, mimeType: mimeType, metadata: meta}
}

func (b *Blob) String() string {
	if src := b.Source(); src != "" {
		return "Blob " + src
	}
	return fmt.Sprintf("Blob (%d bytes)", len(b.data))
}

// MarshalJSON renders the reference, never the content.
func (b *Blob) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"type": "blob",
	}
	if b.location != "" {
		out["location"] = b.location
	}
	if len(b.data) > 0 {
		out["size"] = len(b.data)
	}
	if b.mimeType != "" {
		out["mime_type"] = b.mimeType
	}
	if len(b.metadata) > 0 {
		out["metadata"] = b.metadata
	}
	return json.Marshal(out)
}
