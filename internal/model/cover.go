package model

// GenerateRequest is the optional body of the generate endpoints
type GenerateRequest struct {
	Mode string `json:"mode" validate:"omitempty,oneof=sync async"`
}

// BatchRequest triggers generation for several posts
type BatchRequest struct {
	PostIDs []string `json:"postIds" validate:"omitempty,max=100,dive,required"`
	Mode    string   `json:"mode" validate:"omitempty,oneof=sync async"`
}

// GenerateResult is returned by a generate or regenerate call.
// In async mode only TaskID and Status are set.
type GenerateResult struct {
	PostID   string    `json:"postId"`
	TaskID   string    `json:"taskId"`
	Status   JobStatus `json:"status"`
	Prompt   string    `json:"prompt"`
	MediaID  string    `json:"mediaId,omitempty"`
	ImageURL string    `json:"imageUrl,omitempty"`
	Message  string    `json:"message"`
}

// BatchItemResult is the per-post outcome of a batch run
type BatchItemResult struct {
	Success bool   `json:"success"`
	TaskID  string `json:"taskId,omitempty"`
	MediaID string `json:"mediaId,omitempty"`
	Message string `json:"message"`
}

// BatchResult maps post ids to their outcome
type BatchResult struct {
	Total     int                        `json:"total"`
	Succeeded int                        `json:"succeeded"`
	Failed    int                        `json:"failed"`
	Results   map[string]BatchItemResult `json:"results"`
}

// CoverStatus is the read model for GET /covers/:postId/status
type CoverStatus struct {
	PostID   string         `json:"postId"`
	Job      *GenerationJob `json:"job,omitempty"`
	Featured *Media         `json:"featured,omitempty"`
}

// ConnectionCheck is the result of one connectivity probe
type ConnectionCheck struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ConnectionReport aggregates probes of the upstream providers
type ConnectionReport struct {
	Chat  ConnectionCheck `json:"chat"`
	Image ConnectionCheck `json:"image"`
}
