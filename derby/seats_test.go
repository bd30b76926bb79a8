package derby

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func seatSet(seats ...int) map[string]*Participant {
	participants := make(map[string]*Participant, len(seats))
	for i, seat := range seats {
		identity := string(rune('a' + i))
		participants[identity] = &Participant{Identity: identity, Seat: seat}
	}
	return participants
}

func TestAssignSeat_LowestUnused(t *testing.T) {
	assert.Equal(t, 1, assignSeat(seatSet(), 6))
	assert.Equal(t, 2, assignSeat(seatSet(1), 6))
	assert.Equal(t, 1, assignSeat(seatSet(2, 3), 6))
	assert.Equal(t, 4, assignSeat(seatSet(1, 2, 3, 5), 6))
}

func TestAssignSeat_ReleasedSeatIsReused(t *testing.T) {
	participants := seatSet(1, 2, 3)

	// Seat 2 leaves; it must be the next assignment.
	for identity, p := range participants {
		if p.Seat == 2 {
			delete(participants, identity)
		}
	}
	assert.Equal(t, 2, assignSeat(participants, 6))
}

func TestAssignSeat_FullFallback(t *testing.T) {
	// All seats in use should not occur given admission checks, but the
	// fallback must stay within [1, maxSeats].
	assert.Equal(t, 6, assignSeat(seatSet(1, 2, 3, 4, 5, 6), 6))
}

func TestAssignSeat_PairwiseDistinct(t *testing.T) {
	participants := make(map[string]*Participant)
	for i := 0; i < 6; i++ {
		identity := string(rune('a' + i))
		seat := assignSeat(participants, 6)
		participants[identity] = &Participant{Identity: identity, Seat: seat}
	}

	seen := make(map[int]bool)
	for _, p := range participants {
		assert.False(t, seen[p.Seat], "seat %d assigned twice", p.Seat)
		seen[p.Seat] = true
		assert.GreaterOrEqual(t, p.Seat, 1)
		assert.LessOrEqual(t, p.Seat, 6)
	}
}

func TestOpenSeats(t *testing.T) {
	assert.Equal(t, 6, openSeats(seatSet(), 6))
	assert.Equal(t, 4, openSeats(seatSet(1, 2), 6))
	assert.Equal(t, 0, openSeats(seatSet(1, 2, 3, 4, 5, 6), 6))
}
