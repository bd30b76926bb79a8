package derby

// assignSeat returns the lowest seat number in [1, maxSeats] not held by any
// active participant. Capacity is checked upstream at join admission; if every
// seat is somehow in use the degraded fallback min(used+1, maxSeats) keeps the
// session alive rather than failing the join.
func assignSeat(participants map[string]*Participant, maxSeats int) int {
	used := make(map[int]bool, len(participants))
	for _, p := range participants {
		used[p.Seat] = true
	}
	for seat := 1; seat <= maxSeats; seat++ {
		if !used[seat] {
			return seat
		}
	}
	if len(used)+1 < maxSeats {
		return len(used) + 1
	}
	return maxSeats
}

// openSeats counts the seats not held by any active participant.
func openSeats(participants map[string]*Participant, maxSeats int) int {
	open := maxSeats - len(participants)
	if open < 0 {
		return 0
	}
	return open
}
