package models

import "github.com/google/uuid"

// DefaultEloRating is the rating assigned to a user with no ranked history.
const DefaultEloRating = 1200

// User mirrors a row of the users table owned by the profile service.
type User struct {
	ID        uuid.UUID `json:"id"`
	Nickname  string    `json:"nickname"`
	AvatarURL string    `json:"avatar_url"`

	EloRating int `json:"elo_rating"`
	Wins      int `json:"wins"`
	Losses    int `json:"losses"`
}

// Display returns the public snapshot other players see.
func (u User) Display() Display {
	return Display{
		Nickname:  u.Nickname,
		EloRating: u.EloRating,
		AvatarURL: u.AvatarURL,
	}
}
