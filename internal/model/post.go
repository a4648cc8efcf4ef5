package model

import "time"

// Post statuses as stored in the catalogue
const (
	PostStatusDraft     = "draft"
	PostStatusPublished = "published"
)

// Post meta keys written by the generator
const (
	MetaGeneratedPrompt = "generated_prompt"
	MetaAISummary       = "ai_summary"
)

// Post is a blog post read from the catalogue
type Post struct {
	ID              string  `json:"id"`
	Title           string  `json:"title"`
	Content         string  `json:"content"`
	Status          string  `json:"status"`
	FeaturedMediaID *string `json:"featuredMediaId,omitempty"`
}

// HasFeatured reports whether the post already has a featured image.
func (p *Post) HasFeatured() bool {
	return p.FeaturedMediaID != nil && *p.FeaturedMediaID != ""
}

// Media is a stored image attributed to a post
type Media struct {
	ID        string    `json:"id"`
	PostID    string    `json:"postId"`
	ObjectKey string    `json:"objectKey"`
	URL       string    `json:"url"`
	MimeType  string    `json:"mimeType"`
	Size      int64     `json:"size"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// UpsertPostRequest syncs a post from the blog into the catalogue
type UpsertPostRequest struct {
	Title   string `json:"title" validate:"required,max=500"`
	Content string `json:"content"`
	Status  string `json:"status" validate:"required,oneof=draft published"`
}

// UpsertPostResult reports whether publishing the post scheduled a cover
type UpsertPostResult struct {
	Post          *Post `json:"post"`
	AutoGenerated bool  `json:"autoGenerateScheduled"`
}
