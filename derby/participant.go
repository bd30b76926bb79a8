package derby

import "fmt"

// maxDisplayNameLen caps client-supplied display names.
const maxDisplayNameLen = 24

// ParticipantKind distinguishes connected players from server-driven
// opponents.
type ParticipantKind int

const (
	ParticipantKindHuman ParticipantKind = iota
	ParticipantKindSimulated
)

// Participant is one occupied seat in the race. Humans are keyed by their
// Nakama user ID; simulated opponents carry a synthetic identity derived from
// the Nakama match ID and seat number so they can be recognized and excluded
// from rewards.
type Participant struct {
	Identity    string
	Kind        ParticipantKind
	Seat        int
	DisplayName string
	X, Y, Z     float64
	Score       int

	// AccountRef is the participant's external economy identity, present
	// only for humans that supplied one at join time.
	AccountRef string
}

// Name returns the display name, falling back to a seat-derived default.
func (p *Participant) Name() string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return fmt.Sprintf("Player %d", p.Seat)
}

// botIdentity derives the deterministic synthetic identity for the simulated
// opponent occupying the given seat.
func botIdentity(roomID string, seat int) string {
	return fmt.Sprintf("BOT_%s_%d", roomID, seat)
}

// truncateName enforces the display name length cap.
func truncateName(name string) string {
	runes := []rune(name)
	if len(runes) > maxDisplayNameLen {
		return string(runes[:maxDisplayNameLen])
	}
	return name
}
