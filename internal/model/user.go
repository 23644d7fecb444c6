package model

import "time"

// User is a reader identified by the stable id of the hosting chat
// platform. Users are created on first interaction and never deleted here.
type User struct {
	ID          string    `json:"id"`
	ExternalID  string    `json:"external_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
}
