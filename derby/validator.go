package derby

import (
	"math"
	"time"
)

// allowedScoreSteps is the fixed set of score increments a single update may
// apply. Scoring is soft-authoritative: the server never computes human scores
// itself but bounds the shape of every accepted change.
var allowedScoreSteps = map[int]bool{1: true, 2: true, 4: true}

// validator applies rate limiting and plausibility checks to client-submitted
// position and score updates. Rejections are silent no-ops: malformed or
// cheating clients learn nothing and cannot desynchronize the session.
type validator struct {
	config *RaceConfig

	// lastPositionAt tracks the most recent accepted position update per
	// participant identity for the anti-flood throttle.
	lastPositionAt map[string]time.Time
}

func newValidator(config *RaceConfig) *validator {
	return &validator{
		config:         config,
		lastPositionAt: make(map[string]time.Time),
	}
}

// allowPosition reports whether a position update from the identity may be
// applied now, and records the acceptance. Updates arriving faster than the
// configured interval are dropped.
func (v *validator) allowPosition(identity string, now time.Time) bool {
	if last, ok := v.lastPositionAt[identity]; ok {
		if now.Sub(last) < v.config.positionInterval() {
			return false
		}
	}
	v.lastPositionAt[identity] = now
	return true
}

// sanitizePosition merges a client-reported position into the participant.
// Non-finite fields fall back to the previous value and the progress axis is
// clamped to the track bounds; Y and Z pass through unclamped.
func (v *validator) sanitizePosition(p *Participant, msg *PositionMessage) {
	x := safeNum(msg.X, p.X)
	p.X = math.Max(v.config.minTrackX(), math.Min(v.config.maxTrackX(), x))
	p.Y = safeNum(msg.Y, p.Y)
	p.Z = safeNum(msg.Z, p.Z)
}

// validateScore checks a proposed absolute score against the participant's
// current score. It returns the clamped target and whether the update is an
// acceptable single increment. Decrements and deltas outside the allowed set
// are rejected.
func (v *validator) validateScore(p *Participant, proposed int) (int, bool) {
	target := proposed
	if target < 0 {
		target = 0
	}
	if target > v.config.WinningScore {
		target = v.config.WinningScore
	}

	delta := target - p.Score
	if delta <= 0 || !allowedScoreSteps[delta] {
		return p.Score, false
	}
	return target, true
}

// forget drops throttle bookkeeping for a departed participant.
func (v *validator) forget(identity string) {
	delete(v.lastPositionAt, identity)
}

func safeNum(value, fallback float64) float64 {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fallback
	}
	return value
}
