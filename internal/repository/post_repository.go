package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/generatecover/api/internal/config"
	"github.com/generatecover/api/internal/model"
)

// PostRepository reads posts and stores cover media metadata in PostgreSQL
type PostRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresPool opens a pgx pool from the postgres config section.
func NewPostgresPool(ctx context.Context, cfg *config.PostgresConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database URL: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	return pool, nil
}

func NewPostRepository(pool *pgxpool.Pool) *PostRepository {
	return &PostRepository{pool: pool}
}

// InitSchema creates the catalogue tables. Idempotent.
func (r *PostRepository) InitSchema(ctx context.Context) error {
	schema := `
    CREATE TABLE IF NOT EXISTS posts (
        id TEXT PRIMARY KEY,
        title TEXT NOT NULL DEFAULT '',
        content TEXT NOT NULL DEFAULT '',
        status TEXT NOT NULL DEFAULT 'draft',
        featured_media_id TEXT,
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    CREATE INDEX IF NOT EXISTS idx_posts_status ON posts (status);

    CREATE TABLE IF NOT EXISTS media (
        id TEXT PRIMARY KEY,
        post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
        object_key TEXT NOT NULL,
        url TEXT NOT NULL,
        mime_type TEXT NOT NULL,
        size BIGINT NOT NULL DEFAULT 0,
        title TEXT NOT NULL DEFAULT '',
        created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
    );
    CREATE INDEX IF NOT EXISTS idx_media_post ON media (post_id);

    CREATE TABLE IF NOT EXISTS post_meta (
        post_id TEXT NOT NULL REFERENCES posts(id) ON DELETE CASCADE,
        meta_key TEXT NOT NULL,
        meta_value TEXT NOT NULL,
        updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
        PRIMARY KEY (post_id, meta_key)
    );
    `
	_, err := r.pool.Exec(ctx, schema)
	return err
}

// UpsertPost creates or updates a post synced from the blog.
func (r *PostRepository) UpsertPost(ctx context.Context, p *model.Post) error {
	query := `
        INSERT INTO posts (id, title, content, status)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO UPDATE
        SET title = EXCLUDED.title, content = EXCLUDED.content, status = EXCLUDED.status, updated_at = NOW()
    `
	_, err := r.pool.Exec(ctx, query, p.ID, p.Title, p.Content, p.Status)
	return err
}

func (r *PostRepository) GetPost(ctx context.Context, postID string) (*model.Post, error) {
	p := &model.Post{}
	query := `SELECT id, title, content, status, featured_media_id FROM posts WHERE id = $1`
	err := r.pool.QueryRow(ctx, query, postID).Scan(&p.ID, &p.Title, &p.Content, &p.Status, &p.FeaturedMediaID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.NewError(model.ErrKindNotFound, "post not found", nil)
		}
		return nil, err
	}
	return p, nil
}

// ListWithoutFeatured returns published posts that have no featured image.
func (r *PostRepository) ListWithoutFeatured(ctx context.Context) ([]string, error) {
	query := `SELECT id FROM posts WHERE status = $1 AND featured_media_id IS NULL ORDER BY created_at`
	rows, err := r.pool.Query(ctx, query, model.PostStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PostRepository) SaveMeta(ctx context.Context, postID, key, value string) error {
	query := `
        INSERT INTO post_meta (post_id, meta_key, meta_value) VALUES ($1, $2, $3)
        ON CONFLICT (post_id, meta_key) DO UPDATE SET meta_value = EXCLUDED.meta_value, updated_at = NOW()
    `
	_, err := r.pool.Exec(ctx, query, postID, key, value)
	return err
}

// GetMeta returns "" when the key is not set.
func (r *PostRepository) GetMeta(ctx context.Context, postID, key string) (string, error) {
	var value string
	err := r.pool.QueryRow(ctx, `SELECT meta_value FROM post_meta WHERE post_id = $1 AND meta_key = $2`, postID, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (r *PostRepository) InsertMedia(ctx context.Context, m *model.Media) error {
	query := `
        INSERT INTO media (id, post_id, object_key, url, mime_type, size, title, created_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err := r.pool.Exec(ctx, query, m.ID, m.PostID, m.ObjectKey, m.URL, m.MimeType, m.Size, m.Title, m.CreatedAt)
	return err
}

// GetMedia returns nil when the media row does not exist.
func (r *PostRepository) GetMedia(ctx context.Context, mediaID string) (*model.Media, error) {
	m := &model.Media{}
	query := `SELECT id, post_id, object_key, url, mime_type, size, title, created_at FROM media WHERE id = $1`
	err := r.pool.QueryRow(ctx, query, mediaID).Scan(
		&m.ID, &m.PostID, &m.ObjectKey, &m.URL, &m.MimeType, &m.Size, &m.Title, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}

// DeleteMedia removes the row and clears it from any post featuring it.
func (r *PostRepository) DeleteMedia(ctx context.Context, mediaID string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE posts SET featured_media_id = NULL, updated_at = NOW() WHERE featured_media_id = $1`, mediaID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM media WHERE id = $1`, mediaID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// SetFeatured points the post at mediaID. The media must belong to the post.
func (r *PostRepository) SetFeatured(ctx context.Context, postID, mediaID string) error {
	query := `
        UPDATE posts SET featured_media_id = $2, updated_at = NOW()
        WHERE id = $1 AND EXISTS (SELECT 1 FROM media WHERE id = $2 AND post_id = $1)
    `
	tag, err := r.pool.Exec(ctx, query, postID, mediaID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("post %s cannot feature media %s", postID, mediaID)
	}
	return nil
}

// FeaturedMedia returns the post's featured media, or nil if it has none.
func (r *PostRepository) FeaturedMedia(ctx context.Context, postID string) (*model.Media, error) {
	m := &model.Media{}
	query := `
        SELECT m.id, m.post_id, m.object_key, m.url, m.mime_type, m.size, m.title, m.created_at
        FROM posts p JOIN media m ON m.id = p.featured_media_id
        WHERE p.id = $1
    `
	err := r.pool.QueryRow(ctx, query, postID).Scan(
		&m.ID, &m.PostID, &m.ObjectKey, &m.URL, &m.MimeType, &m.Size, &m.Title, &m.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return m, nil
}
