package skillfmt

// Tier is a popularity bracket.
type Tier string

const (
	TierPlatinum Tier = "platinum"
	TierGold     Tier = "gold"
	TierSilver   Tier = "silver"
	TierBronze   Tier = "bronze"
)

const (
	platinumScore = 500
	goldScore     = 150
	silverScore   = 40

	viewWeight   = 0.1
	ratingWeight = 20
)

// TierScore combines installs, views and the average rating into a score
// and maps it to a tier. Unrated skills get no rating contribution.
func TierScore(installs, views, ratingSum, ratingCount int64) (float64, Tier) {
	score := float64(installs) + float64(views)*viewWeight
	if ratingCount > 0 {
		score += float64(ratingSum) / float64(ratingCount) * ratingWeight
	}

	switch {
	case score >= platinumScore:
		return score, TierPlatinum
	case score >= goldScore:
		return score, TierGold
	case score >= silverScore:
		return score, TierSilver
	}
	return score, TierBronze
}
