package service

import (
	"context"
	"errors"
	"strings"

	"stockbook/backend/internal/blob"
	"stockbook/backend/internal/domain"
	"stockbook/backend/internal/store"
)

var uploadFolders = map[string]bool{
	"products": true,
	"avatars":  true,
	"links":    true,
}

// UploadImage normalizes an image and stores it under the caller's prefix.
func (s *Service) UploadImage(ctx context.Context, folder string, data []byte) (domain.Upload, error) {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return domain.Upload{}, err
	}
	folder = strings.ToLower(strings.TrimSpace(folder))
	if folder == "" {
		folder = "products"
	}
	if !uploadFolders[folder] {
		return domain.Upload{}, store.Invalid("folder", "unknown upload folder")
	}
	if len(data) == 0 {
		return domain.Upload{}, store.Invalid("file", "is empty")
	}

	normalized, contentType, err := blob.NormalizeImage(data)
	if err != nil {
		if errors.Is(err, blob.ErrUnsupportedImage) {
			return domain.Upload{}, store.Invalid("file", "is not a supported image")
		}
		return domain.Upload{}, err
	}

	key := blob.ObjectKey(actor.UserID, folder, "jpg", s.now())
	url, err := s.blobs.Put(ctx, key, contentType, normalized)
	if err != nil {
		return domain.Upload{}, err
	}

	s.logAudit(ctx, "upload", "blob", key, nil)
	return domain.Upload{URL: url, Key: key, ContentType: contentType, Size: len(normalized)}, nil
}

// DeleteUpload removes an object the caller owns.
func (s *Service) DeleteUpload(ctx context.Context, keyOrURL string) error {
	actor, err := s.requireActor(ctx)
	if err != nil {
		return err
	}
	keyOrURL = strings.TrimSpace(keyOrURL)
	if keyOrURL == "" {
		return store.Invalid("url", "is required")
	}
	key := blob.KeyFromURL("", keyOrURL)
	if !strings.HasPrefix(key, actor.UserID+"/") {
		return ErrForbidden
	}
	return s.blobs.Delete(ctx, keyOrURL)
}
