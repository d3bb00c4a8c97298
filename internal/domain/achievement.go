package domain

import "github.com/shopspring/decimal"

// AchievementType names a badge kind.
type AchievementType string

const (
	AchievementFirstWin     AchievementType = "first_win"
	AchievementHotStreak    AchievementType = "hot_streak"
	AchievementUnstoppable  AchievementType = "unstoppable"
	AchievementVeteran      AchievementType = "veteran"
	AchievementCenturion    AchievementType = "centurion"
	AchievementWhale        AchievementType = "whale"
	AchievementTopPredictor AchievementType = "top_predictor"
)

// AchievementMetric is the stat an achievement threshold is compared with.
type AchievementMetric string

const (
	MetricWins        AchievementMetric = "wins"
	MetricStreak      AchievementMetric = "current_streak"
	MetricPredictions AchievementMetric = "predictions"
	MetricWagered     AchievementMetric = "wagered"
	MetricManual      AchievementMetric = "manual"
)

// Achievement describes when a badge type is earned.
type Achievement struct {
	Type      AchievementType   `json:"type"`
	Title     string            `json:"title"`
	Metric    AchievementMetric `json:"metric"`
	Threshold int64             `json:"threshold,omitempty"`
	Soulbound bool              `json:"soulbound"`
}

// Achievements is the closed set of badge types in evaluation order. The whale
// threshold is configured, see Unlocked.
var Achievements = []Achievement{
	{Type: AchievementFirstWin, Title: "First Win", Metric: MetricWins, Threshold: 1, Soulbound: true},
	{Type: AchievementHotStreak, Title: "Hot Streak", Metric: MetricStreak, Threshold: 5, Soulbound: true},
	{Type: AchievementUnstoppable, Title: "Unstoppable", Metric: MetricStreak, Threshold: 10, Soulbound: true},
	{Type: AchievementVeteran, Title: "Veteran", Metric: MetricPredictions, Threshold: 50, Soulbound: true},
	{Type: AchievementCenturion, Title: "Centurion", Metric: MetricPredictions, Threshold: 100, Soulbound: true},
	{Type: AchievementWhale, Title: "Whale", Metric: MetricWagered, Soulbound: true},
	{Type: AchievementTopPredictor, Title: "Top Predictor", Metric: MetricManual, Soulbound: false},
}

// LookupAchievement returns the achievement definition for t.
func LookupAchievement(t AchievementType) (Achievement, bool) {
	for _, a := range Achievements {
		if a.Type == t {
			return a, true
		}
	}
	return Achievement{}, false
}

// Unlocked reports whether stats meet the achievement's threshold. Manual
// achievements are never unlocked by stats.
func (a Achievement) Unlocked(s UserStats, whaleThreshold decimal.Decimal) bool {
	switch a.Metric {
	case MetricWins:
		return s.TotalWins >= a.Threshold
	case MetricStreak:
		return s.CurrentStreak >= a.Threshold
	case MetricPredictions:
		return s.TotalPredictions >= a.Threshold
	case MetricWagered:
		return s.TotalWagered.GreaterThanOrEqual(whaleThreshold)
	default:
		return false
	}
}
