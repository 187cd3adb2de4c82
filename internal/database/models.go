package database

import "time"

// CredentialInfo describes a stored credential without its value.
type CredentialInfo struct {
	Platform  string    `json:"platform"`
	Key       string    `json:"key"`
	Sealed    bool      `json:"sealed"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Upload is one published pack.
type Upload struct {
	ID           int64     `json:"id"`
	Platform     string    `json:"platform"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	StickerCount int       `json:"stickerCount"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Conversion is a cached conversion result.
type Conversion struct {
	Key        string    `json:"key"`
	OutputPath string    `json:"outputPath"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"createdAt"`
}
