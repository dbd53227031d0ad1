package similarity

import (
	"strings"

	"github.com/RADreams/Cino-backend/models"
)

// Related reports whether two catalog titles belong in each other's
// "similar" rail: same category, or any shared genre, or any shared cast
// member, or the same director.
func Related(a, b *models.Title) bool {
	if a.ID == b.ID {
		return false
	}
	if a.Category != "" && strings.EqualFold(a.Category, b.Category) {
		return true
	}
	if anyShared(a.Genres, b.Genres) {
		return true
	}
	if anyShared(a.Cast, b.Cast) {
		return true
	}
	if a.Director != "" && strings.EqualFold(a.Director, b.Director) {
		return true
	}
	return false
}

// Score rates how related two titles are, between 0.0 and 1.0. The similar
// rail is ordered by popularity, so this only breaks popularity ties, but it
// is also what keeps a barely related title behind a strongly related one.
//
// Weights: shared genres 0.40, shared cast 0.25, same category 0.20,
// same director 0.15.
func Score(a, b *models.Title) float64 {
	var score float64
	score += 0.40 * sharedFraction(a.Genres, b.Genres)
	score += 0.25 * sharedFraction(a.Cast, b.Cast)
	if a.Category != "" && strings.EqualFold(a.Category, b.Category) {
		score += 0.20
	}
	if a.Director != "" && strings.EqualFold(a.Director, b.Director) {
		score += 0.15
	}
	return score
}

// sharedFraction returns |a ∩ b| / min(|a|, |b|), case-insensitive.
// Dividing by the smaller set keeps a two-genre title comparable with a
// five-genre one.
func sharedFraction(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}

	shared := 0
	seen := make(map[string]struct{}, len(b))
	for _, v := range b {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		if _, ok := set[v]; ok {
			shared++
		}
	}

	smaller := len(set)
	if len(seen) < smaller {
		smaller = len(seen)
	}
	if smaller == 0 {
		return 0
	}
	return float64(shared) / float64(smaller)
}

func anyShared(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			set[v] = struct{}{}
		}
	}
	for _, v := range b {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := set[v]; ok {
			return true
		}
	}
	return false
}
