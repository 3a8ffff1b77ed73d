package policy

// PointsPerUnit is credited to a donor for every unit donated directly against a request.
const PointsPerUnit = 10

type BadgeLevel string

const (
	BadgeNew    BadgeLevel = "New Donor"
	BadgeBronze BadgeLevel = "Bronze"
	BadgeSilver BadgeLevel = "Silver"
	BadgeGold   BadgeLevel = "Gold"
)

type Badge struct {
	Level       BadgeLevel `json:"level"`
	Description string     `json:"description"`
	Points      int        `json:"points"`
	LivesSaved  int        `json:"livesSaved"`
}

// BadgeFor derives the badge from cumulative points.
func BadgeFor(points int) Badge {
	b := Badge{Points: points, LivesSaved: points / PointsPerUnit}
	switch {
	case points >= 100:
		b.Level, b.Description = BadgeGold, "Donated 10+ units"
	case points >= 50:
		b.Level, b.Description = BadgeSilver, "Donated 5+ units"
	case points >= 10:
		b.Level, b.Description = BadgeBronze, "Donated at least once"
	default:
		b.Level, b.Description = BadgeNew, "Just getting started"
	}
	return b
}
