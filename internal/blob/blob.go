package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
)

const MaxImageEdge = 1024

var ErrUnsupportedImage = errors.New("unsupported image")

// Store persists uploaded objects and returns their public URL.
type Store interface {
	Put(ctx context.Context, key string, contentType string, data []byte) (string, error)
	// Delete accepts either an object key or a URL previously returned by Put.
	// Deleting a missing object is not an error.
	Delete(ctx context.Context, keyOrURL string) error
}

// ObjectKey builds "<user>/<folder>/<unix-nanos>-<rand>.<ext>".
func ObjectKey(userID string, folder string, ext string, now time.Time) string {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "bin"
	}
	folder = strings.Trim(folder, "/")
	if folder == "" {
		folder = "misc"
	}
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%s/%s/%d-%s.%s", userID, folder, now.UnixNano(), random, ext)
}

// NormalizeImage decodes data, shrinks it to fit MaxImageEdge on the long
// side and re-encodes it as JPEG.
func NormalizeImage(data []byte) ([]byte, string, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	bounds := img.Bounds()
	if bounds.Dx() > MaxImageEdge || bounds.Dy() > MaxImageEdge {
		img = imaging.Fit(img, MaxImageEdge, MaxImageEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), "image/jpeg", nil
}

// KeyFromURL extracts the object key from a URL under baseURL. Values that are
// not URLs are returned unchanged.
func KeyFromURL(baseURL string, raw string) string {
	raw = strings.TrimSpace(raw)
	base := strings.TrimRight(baseURL, "/")
	if base != "" && strings.HasPrefix(raw, base+"/") {
		return strings.TrimPrefix(raw, base+"/")
	}
	if strings.HasPrefix(raw, "gs://") {
		parts := strings.SplitN(strings.TrimPrefix(raw, "gs://"), "/", 2)
		if len(parts) == 2 {
			return parts[1]
		}
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return strings.TrimPrefix(raw, "/")
	}
	host := strings.ToLower(parsed.Host)
	p := strings.TrimPrefix(parsed.Path, "/")
	if host == "storage.googleapis.com" || host == "storage.cloud.google.com" {
		parts := strings.SplitN(p, "/", 2)
		if len(parts) == 2 {
			return parts[1]
		}
	}
	return p
}

// MemoryStore keeps objects in process memory. It backs local runs and tests.
type MemoryStore struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]memoryObject
}

type memoryObject struct {
	contentType string
	data        []byte
}

func NewMemoryStore(baseURL string) *MemoryStore {
	if baseURL == "" {
		baseURL = "memory://uploads"
	}
	return &MemoryStore{baseURL: strings.TrimRight(baseURL, "/"), objects: map[string]memoryObject{}}
}

func (m *MemoryStore) Put(ctx context.Context, key string, contentType string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = memoryObject{contentType: contentType, data: append([]byte(nil), data...)}
	return m.baseURL + "/" + path.Clean(key), nil
}

func (m *MemoryStore) Delete(ctx context.Context, keyOrURL string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, KeyFromURL(m.baseURL, keyOrURL))
	return nil
}

// Object returns a stored object. Used by tests and the local file route.
func (m *MemoryStore) Object(key string) ([]byte, string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return nil, "", false
	}
	return append([]byte(nil), obj.data...), obj.contentType, true
}

func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
