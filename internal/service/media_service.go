package service

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/generatecover/api/internal/client"
	"github.com/generatecover/api/internal/model"
)

// MediaRepository persists media rows and the featured-image link
type MediaRepository interface {
	InsertMedia(ctx context.Context, m *model.Media) error
	GetMedia(ctx context.Context, mediaID string) (*model.Media, error)
	DeleteMedia(ctx context.Context, mediaID string) error
	SetFeatured(ctx context.Context, postID, mediaID string) error
	FeaturedMedia(ctx context.Context, postID string) (*model.Media, error)
}

// MediaLibrary implements MediaStore: bytes go to object storage, metadata
// to the media repository.
type MediaLibrary struct {
	objects client.ObjectStore
	repo    MediaRepository
	now     func() time.Time
	log     zerolog.Logger
}

// NewMediaLibrary creates a media library. A nil object store keeps the
// bytes nowhere and hands out placeholder CDN URLs, for local development.
func NewMediaLibrary(objects client.ObjectStore, repo MediaRepository, log zerolog.Logger) *MediaLibrary {
	return &MediaLibrary{
		objects: objects,
		repo:    repo,
		now:     time.Now,
		log:     log.With().Str("component", "media").Logger(),
	}
}

var unsafeFilename = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func sanitizeFilename(s string) string {
	s = unsafeFilename.ReplaceAllString(strings.TrimSpace(s), "-")
	s = strings.Trim(s, "-.")
	if len(s) > 80 {
		s = s[:80]
	}
	if s == "" {
		s = "cover"
	}
	return strings.ToLower(s)
}

// StoreImage uploads data as a new media object attributed to postID.
func (l *MediaLibrary) StoreImage(ctx context.Context, data []byte, filenameHint, postID string) (*model.Media, error) {
	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "image/") {
		return nil, model.NewError(model.ErrKindStorage,
			fmt.Sprintf("downloaded file is not an image (%s)", mtype.String()), nil)
	}

	mediaID := uuid.New().String()
	key := fmt.Sprintf("covers/%s/%s-%s%s", postID, sanitizeFilename(filenameHint), mediaID[:8], mtype.Extension())

	url, err := l.put(ctx, key, data, mtype.String())
	if err != nil {
		return nil, model.NewError(model.ErrKindStorage, "failed to upload image", err)
	}

	media := &model.Media{
		ID:        mediaID,
		PostID:    postID,
		ObjectKey: key,
		URL:       url,
		MimeType:  mtype.String(),
		Size:      int64(len(data)),
		Title:     filenameHint + " - AI generated cover",
		CreatedAt: l.now().UTC(),
	}
	if err := l.repo.InsertMedia(ctx, media); err != nil {
		l.removeObject(ctx, key)
		return nil, model.NewError(model.ErrKindStorage, "failed to save media record", err)
	}

	l.log.Info().Str("post_id", postID).Str("key", key).Int("bytes", len(data)).Msg("image stored")
	return media, nil
}

func (l *MediaLibrary) SetFeatured(ctx context.Context, postID, mediaID string) error {
	if err := l.repo.SetFeatured(ctx, postID, mediaID); err != nil {
		return model.NewError(model.ErrKindFeaturedImage, "failed to set featured image", err)
	}
	return nil
}

// DeleteMedia removes the media row and its object. Missing media is not an error.
func (l *MediaLibrary) DeleteMedia(ctx context.Context, mediaID string) error {
	media, err := l.repo.GetMedia(ctx, mediaID)
	if err != nil {
		return err
	}
	if media == nil {
		return nil
	}
	if err := l.repo.DeleteMedia(ctx, mediaID); err != nil {
		return err
	}
	l.removeObject(ctx, media.ObjectKey)
	return nil
}

func (l *MediaLibrary) FeaturedMedia(ctx context.Context, postID string) (*model.Media, error) {
	return l.repo.FeaturedMedia(ctx, postID)
}

func (l *MediaLibrary) put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if l.objects == nil {
		return fmt.Sprintf("https://cdn.generatecover.local/%s", key), nil
	}
	return l.objects.Put(ctx, key, data, contentType)
}

func (l *MediaLibrary) removeObject(ctx context.Context, key string) {
	if l.objects == nil {
		return
	}
	if err := l.objects.Delete(ctx, key); err != nil {
		l.log.Warn().Err(err).Str("key", key).Msg("failed to delete object")
	}
}
