package derby

import (
	"sort"
	"time"
)

// leaderboard derives the ranked seat view from current race state. A dirty
// flag batches bursts of rapid mutations into bounded-rate broadcasts: the
// match loop checks the flag at the configured period and only recomputes and
// broadcasts when something actually changed.
type leaderboard struct {
	dirty       bool
	nextCheckAt time.Time
}

// markDirty flags the ranked view as stale.
func (l *leaderboard) markDirty() {
	l.dirty = true
}

// start arms the periodic check. Called once at race launch.
func (l *leaderboard) start(now time.Time, period time.Duration) {
	l.nextCheckAt = now.Add(period)
}

// due reports whether a dirty check is scheduled and has elapsed, and if so
// schedules the next one.
func (l *leaderboard) due(now time.Time, period time.Duration) bool {
	if l.nextCheckAt.IsZero() || now.Before(l.nextCheckAt) {
		return false
	}
	l.nextCheckAt = now.Add(period)
	return true
}

// consumeDirty clears and returns the dirty flag.
func (l *leaderboard) consumeDirty() bool {
	was := l.dirty
	l.dirty = false
	return was
}

// computeLeaderboard builds the ordered ranking of all active seats: score
// descending, ties broken by progress-axis position descending. The secondary
// key uses the participant's current position rather than a score-derived one,
// since the two can transiently disagree before the authoritative recompute.
func computeLeaderboard(participants map[string]*Participant) []*LeaderboardEntry {
	entries := make([]*LeaderboardEntry, 0, len(participants))
	for _, p := range participants {
		entries = append(entries, &LeaderboardEntry{
			ParticipantID: p.Identity,
			Seat:          p.Seat,
			DisplayName:   p.Name(),
			Score:         p.Score,
			X:             p.X,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].X > entries[j].X
	})
	return entries
}
