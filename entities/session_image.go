package entities

import "time"

type ImageRole string

const (
	ImageRoleInput  ImageRole = "input"
	ImageRoleOutput ImageRole = "output"
)

// SessionImage is one entry of a session's append-only image list.
type SessionImage struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      ImageRole `json:"role"`
	SortOrder int       `json:"sort_order"`
	Prompt    string    `json:"prompt"`
	Seed      int64     `json:"seed"`
	PNG       []byte    `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}
