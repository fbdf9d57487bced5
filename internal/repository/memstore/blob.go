package memstore

import (
	"context"
	"io"
	"sync"

	"github.com/mbeoliero/amora/internal/remote"
)

var _ remote.Blob = (*Blob)(nil)

// Blob keeps uploaded objects in memory
type Blob struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	baseURL string
}

// NewBlob creates a blob store whose public urls start with baseURL
func NewBlob(baseURL string) *Blob {
	return &Blob{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
		baseURL: baseURL,
	}
}

// Upload implements remote.Blob
func (b *Blob) Upload(ctx context.Context, key, contentType string, body io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = data
	b.types[key] = contentType
	return nil
}

// PublicURL implements remote.Blob
func (b *Blob) PublicURL(key string) string {
	return b.baseURL + "/" + key
}

// Object returns a stored object and its content type
func (b *Blob) Object(key string) ([]byte, string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, ok := b.objects[key]
	return data, b.types[key], ok
}
