package analytics

import "buzzboard/internal/events"

type BadgeID string

const (
	BadgeSharpshooter  BadgeID = "sharpshooter"
	BadgeSpeedDemon    BadgeID = "speed_demon"
	BadgeUnstoppable   BadgeID = "unstoppable"
	BadgeHighRoller    BadgeID = "high_roller"
	BadgeTriggerHappy  BadgeID = "trigger_happy"
	BadgeVeteran       BadgeID = "veteran"
	BadgePerfectionist BadgeID = "perfectionist"
)

type Badge struct {
	ID          BadgeID `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Icon        string  `json:"icon"`
}

var AllBadges = map[BadgeID]Badge{
	BadgeSharpshooter:  {ID: BadgeSharpshooter, Name: "Sharpshooter", Description: "5+ correct answers in a single game", Icon: "🎯"},
	BadgeSpeedDemon:    {ID: BadgeSpeedDemon, Name: "Speed Demon", Description: "Average latency under 50ms", Icon: "⚡"},
	BadgeUnstoppable:   {ID: BadgeUnstoppable, Name: "Unstoppable", Description: "3-game win streak", Icon: "🔥"},
	BadgeHighRoller:    {ID: BadgeHighRoller, Name: "High Roller", Description: "1000+ points in a single game", Icon: "💯"},
	BadgeTriggerHappy:  {ID: BadgeTriggerHappy, Name: "Trigger Happy", Description: "3+ wrong answers in a single game", Icon: "🔔"},
	BadgeVeteran:       {ID: BadgeVeteran, Name: "Veteran", Description: "Played 10+ games", Icon: "🏅"},
	BadgePerfectionist: {ID: BadgePerfectionist, Name: "Perfectionist", Description: "3+ correct answers and none wrong", Icon: "✨"},
}

// FromStanding turns a published standing into per-game stats with badges.
func FromStanding(s events.Standing) PlayerGameStats {
	stats := PlayerGameStats{
		PID:        s.PID,
		Name:       s.Name,
		Score:      s.Score,
		Rank:       s.Rank,
		Correct:    s.Correct,
		Incorrect:  s.Incorrect,
		AvgLatency: s.AvgLatency,
	}
	stats.Badges = EvaluateGameBadges(stats)
	return stats
}

// EvaluateGameBadges checks which badges a player earned in a single game.
func EvaluateGameBadges(stats PlayerGameStats) []Badge {
	var earned []Badge

	if stats.Correct >= 5 {
		earned = append(earned, AllBadges[BadgeSharpshooter])
	}

	// Needs at least one buzz; latency alone says nothing about play.
	if stats.Answered() > 0 && stats.AvgLatency > 0 && stats.AvgLatency < 50 {
		earned = append(earned, AllBadges[BadgeSpeedDemon])
	}

	if stats.Score >= 1000 {
		earned = append(earned, AllBadges[BadgeHighRoller])
	}

	if stats.Incorrect >= 3 {
		earned = append(earned, AllBadges[BadgeTriggerHappy])
	}

	if stats.Correct >= 3 && stats.Incorrect == 0 {
		earned = append(earned, AllBadges[BadgePerfectionist])
	}

	return earned
}

// EvaluateLifetimeBadges checks which badges a player earned across their career.
func EvaluateLifetimeBadges(stats PlayerLifetimeStats) []Badge {
	var earned []Badge

	if stats.WinStreak >= 3 {
		earned = append(earned, AllBadges[BadgeUnstoppable])
	}

	if stats.GamesPlayed >= 10 {
		earned = append(earned, AllBadges[BadgeVeteran])
	}

	return earned
}
