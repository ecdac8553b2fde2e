package model

import "time"

// User is the minimal account row the chat subsystem needs: member ids on a
// room must resolve to existing users. Profile data lives in the profile
// service and is out of scope here.
type User struct {
	ID        string    `json:"id"`
	Nickname  string    `json:"nickname"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
