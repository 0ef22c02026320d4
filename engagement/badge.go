package engagement

import "fmt"

// BadgeType names a badge family.
type BadgeType string

const (
	BadgeReader  BadgeType = "reader"
	BadgeMotion  BadgeType = "motion"
	BadgeStreak  BadgeType = "streak"
	BadgePremium BadgeType = "premium"
)

// Badge is one earned badge at a tier level (1..3).
type Badge struct {
	Type  BadgeType `json:"type"`
	Label string    `json:"label"`
	Level int       `json:"level"`
}

type tier struct {
	min   int64
	level int
}

var (
	readerTiers = []tier{{500, 3}, {100, 2}, {10, 1}}
	motionTiers = []tier{{300, 3}, {100, 2}, {10, 1}}
)

// Badges derives the badges for c. premium reports whether the user holds an
// active subscription right now. A nil c is treated as all-zero counters.
func Badges(c *Counters, premium bool) []Badge {
	if c == nil {
		c = &Counters{}
	}

	var out []Badge
	if b, ok := tiered(BadgeReader, "Reader", c.ReadCount, readerTiers); ok {
		out = append(out, b)
	}
	if b, ok := tiered(BadgeMotion, "Motion", c.WatchCount, motionTiers); ok {
		out = append(out, b)
	}

	if c.StreakDays >= 3 {
		level := 1
		switch {
		case c.StreakDays >= 30:
			level = 3
		case c.StreakDays >= 7:
			level = 2
		}
		out = append(out, Badge{Type: BadgeStreak, Label: fmt.Sprintf("Streak %dd", c.StreakDays), Level: level})
	}

	if premium {
		out = append(out, Badge{Type: BadgePremium, Label: "Premium", Level: 1})
	}
	return out
}

func tiered(typ BadgeType, name string, n int64, tiers []tier) (Badge, bool) {
	for _, t := range tiers {
		if n >= t.min {
			return Badge{Type: typ, Label: fmt.Sprintf("%s %d+", name, t.min), Level: t.level}, true
		}
	}
	return Badge{}, false
}
