// internal/rating/elo.go
package rating

import (
	"math"

	"github.com/jason-s-yu/voicebattle/internal/models"
)

// KFactor bounds how far a single result moves a rating.
const KFactor = 32

// Expected is the probability that a player rated r beats an opponent rated opp.
func Expected(r, opp int) float64 {
	return 1 / (1 + math.Pow(10, float64(opp-r)/400))
}

// Change is the signed rating delta for a player rated r against opp.
// Fractions are truncated toward zero.
func Change(r, opp int, won bool) int {
	actual := 0.0
	if won {
		actual = 1.0
	}
	return int(KFactor * (actual - Expected(r, opp)))
}

// Update1v1 applies one ranked result to both users, adjusting ratings and
// win/loss counters. Both deltas are computed from the pre-match ratings.
func Update1v1(winner, loser models.User) (models.User, models.User) {
	wDelta := Change(winner.EloRating, loser.EloRating, true)
	lDelta := Change(loser.EloRating, winner.EloRating, false)

	winner.EloRating += wDelta
	winner.Wins++
	loser.EloRating += lDelta
	loser.Losses++
	return winner, loser
}
