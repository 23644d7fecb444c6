package model

import "time"

// Document is one uploaded book or article owned by a single user.
// Text is the full extracted content and is immutable after creation;
// Offset is the byte position of the reading cursor into Text and only
// ever moves forward. At most one document per user is Active.
type Document struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Filename    string    `json:"filename"`
	Text        string    `json:"-"`
	Offset      int       `json:"offset"`
	Active      bool      `json:"active"`
	StoragePath string    `json:"storage_path"`
	CreatedAt   time.Time `json:"created_at"`
}

// DocumentView is the read-only projection returned to callers; it never
// carries the full text.
type DocumentView struct {
	ID              string    `json:"id"`
	Filename        string    `json:"filename"`
	ProgressPercent int       `json:"progress_percent"`
	Active          bool      `json:"active"`
	CreatedAt       time.Time `json:"created_at"`
}

// FragmentView is the result of advancing a user's active document by one
// fragment.
type FragmentView struct {
	Fragment        string `json:"fragment"`
	ProgressPercent int    `json:"progress_percent"`
	Filename        string `json:"filename"`
	IsFinal         bool   `json:"is_final"`
}

// ReadingStatus describes the user's current position without advancing it.
type ReadingStatus struct {
	Filename        string    `json:"filename"`
	ProgressPercent int       `json:"progress_percent"`
	IsFinal         bool      `json:"is_final"`
	CreatedAt       time.Time `json:"created_at"`
}
