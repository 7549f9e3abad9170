package domain

import "time"

type User struct {
	ID           string // OIDC Subject ID
	Email        string
	IsSubscribed bool
	CreatedAt    time.Time
	LastSeen     time.Time
}

// ProgressRecord is the persisted playback position of one user on one video.
type ProgressRecord struct {
	UserID          string    `json:"userId"`
	VideoID         string    `json:"videoId"`
	ProgressSeconds int64     `json:"progressSeconds"`
	IsCompleted     bool      `json:"isCompleted"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// ProgressFields are the mutable columns of a ProgressRecord.
type ProgressFields struct {
	ProgressSeconds int64
	IsCompleted     bool
}
