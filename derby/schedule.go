package derby

import (
	"time"

	"github.com/robfig/cron/v3"
)

// RaceSchedule computes upcoming derby post times from a standard cron
// expression. Informational only: the match lifecycle never depends on it.
type RaceSchedule struct {
	parser cron.Parser
	expr   string
}

func NewRaceSchedule(expr string) *RaceSchedule {
	return &RaceSchedule{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		expr:   expr,
	}
}

// Configured reports whether a cron expression was provided.
func (s *RaceSchedule) Configured() bool {
	return s.expr != ""
}

// Next returns the first post time strictly after now.
func (s *RaceSchedule) Next(now time.Time) (time.Time, error) {
	if s.expr == "" {
		return time.Time{}, ErrNoSchedule
	}
	sched, err := s.parser.Parse(s.expr)
	if err != nil {
		return time.Time{}, ErrBadInput
	}
	return sched.Next(now), nil
}
