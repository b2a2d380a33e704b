package models

import "github.com/google/uuid"

// DefaultAvatarURL is used when the profile service has no avatar on file.
const DefaultAvatarURL = "/images/avatars/default.png"

// Display is the nickname/rating/avatar snapshot cached per connection at
// admission time. It is never re-read for the lifetime of that connection.
type Display struct {
	Nickname  string `json:"nickname"`
	EloRating int    `json:"elo_rating"`
	AvatarURL string `json:"avatar_url"`
}

// FallbackDisplay builds a placeholder display for a user whose profile could not be loaded.
func FallbackDisplay(userID uuid.UUID) Display {
	return Display{
		Nickname:  "Player_" + userID.String()[:6],
		EloRating: DefaultEloRating,
		AvatarURL: DefaultAvatarURL,
	}
}

// PlayerInfo is a Display tagged with its owner, as sent in room rosters.
type PlayerInfo struct {
	UserID uuid.UUID `json:"user_id"`
	Display
}
