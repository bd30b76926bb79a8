// Package derby implements the authoritative session controller for a
// single multiplayer derby race as a Nakama match handler. One match is one
// race: a bounded set of human participants joins, a countdown runs, unfilled
// seats are topped up with simulated opponents, and the first seat to reach
// the winning score ends the race and triggers a one-time currency reward for
// a human winner.
package derby

import (
	"encoding/json"
	"io"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

// ModuleName is the match handler name registered with Nakama. Clients create
// and join races through this name.
const ModuleName = "derby_race"

var (
	ErrInternal      = runtime.NewError("internal error occurred", 13) // INTERNAL
	ErrBadInput      = runtime.NewError("bad input", 3)                // INVALID_ARGUMENT
	ErrPayloadDecode = runtime.NewError("cannot decode json", 13)      // INTERNAL
	ErrPayloadEncode = runtime.NewError("cannot encode json", 13)      // INTERNAL
	ErrNoSchedule    = runtime.NewError("race schedule not configured", 3)
)

// Inbound opcodes, sent by clients.
const (
	OpCodePosition int64 = iota + 1
	OpCodeScore
	OpCodeSetDisplayName
	OpCodeRequestSnapshot
	OpCodeRequestStart
)

// Outbound opcodes, broadcast by the match handler.
const (
	OpCodeSeatMapping int64 = iota + 10
	OpCodeSeatAssigned
	OpCodeCountdown
	OpCodeMatchStarted
	OpCodeRaceBegins
	OpCodePositionChanged
	OpCodeScoreChanged
	OpCodeLeaderboard
	OpCodeRaceEnded
	OpCodeRewardGranted
	OpCodeWalletSync
)

// PositionMessage is the client-reported position of its own horse. Only the
// X axis carries progress; Y and Z are cosmetic.
type PositionMessage struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// ScoreMessage proposes a new absolute score for the sender.
type ScoreMessage struct {
	Score int `json:"score"`
}

// DisplayNameMessage sets the sender's display name.
type DisplayNameMessage struct {
	DisplayName string `json:"display_name"`
}

// SeatMappingEntry pairs a participant identity with its seat number.
type SeatMappingEntry struct {
	ParticipantID string `json:"participant_id"`
	Seat          int    `json:"seat"`
}

// SeatAssignedMessage announces a newly seated participant.
type SeatAssignedMessage struct {
	ParticipantID string `json:"participant_id"`
	Seat          int    `json:"seat"`
}

// CountdownMessage carries the remaining pre-race seconds.
type CountdownMessage struct {
	Seconds int `json:"seconds"`
}

// MatchStartedMessage announces the freshly generated race identifier.
type MatchStartedMessage struct {
	MatchID string `json:"match_id"`
}

// PositionChangedMessage mirrors an accepted position update to the other
// participants.
type PositionChangedMessage struct {
	ParticipantID string  `json:"participant_id"`
	Seat          int     `json:"seat"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	Z             float64 `json:"z"`
}

// ScoreChangedMessage mirrors an accepted score update to all participants.
type ScoreChangedMessage struct {
	ParticipantID string `json:"participant_id"`
	Seat          int    `json:"seat"`
	Score         int    `json:"score"`
}

// LeaderboardEntry is one row of the ranked seat view.
type LeaderboardEntry struct {
	ParticipantID string  `json:"participant_id"`
	Seat          int     `json:"seat"`
	DisplayName   string  `json:"display_name"`
	Score         int     `json:"score"`
	X             float64 `json:"x"`
}

// RaceEndedMessage announces the end of the race.
type RaceEndedMessage struct {
	MatchID    string `json:"match_id"`
	WinnerID   string `json:"winner_id"`
	WinnerSeat int    `json:"winner_seat"`
}

// RewardGrantedMessage notifies the winner of its one-time race reward. It is
// sent regardless of the economy service outcome.
type RewardGrantedMessage struct {
	MatchID  string `json:"match_id"`
	Currency string `json:"currency"`
	Amount   int64  `json:"amount"`
	Reason   string `json:"reason"`
}

// WalletSyncMessage carries a best-effort snapshot of a participant's economy
// balances, delivered to that participant only.
type WalletSyncMessage struct {
	Balances map[string]int64 `json:"balances"`
}

// RaceConfig is the data definition for a derby race session.
type RaceConfig struct {
	MaxSeats            int     `json:"max_seats,omitempty"`
	CountdownSeconds    int     `json:"countdown_seconds,omitempty"`
	MinParticipants     int     `json:"min_participants,omitempty"`
	WinningScore        int     `json:"winning_score,omitempty"`
	TrackStartX         float64 `json:"track_start_x,omitempty"`
	StepX               float64 `json:"step_x,omitempty"`
	ClampMargin         float64 `json:"clamp_margin,omitempty"`
	PositionIntervalMs  int     `json:"position_interval_ms,omitempty"`
	AutoStartGraceMs    int     `json:"auto_start_grace_ms,omitempty"`
	BotBaseIntervalMs   int     `json:"bot_base_interval_ms,omitempty"`
	BotBaseSpreadMs     int     `json:"bot_base_spread_ms,omitempty"`
	BotJitter           float64 `json:"bot_jitter,omitempty"`
	BotArmDelayMs       int     `json:"bot_arm_delay_ms,omitempty"`
	LeaderboardPeriodMs int     `json:"leaderboard_period_ms,omitempty"`
	DisposeDelayMs      int     `json:"dispose_delay_ms,omitempty"`
	RewardCurrency      string  `json:"reward_currency,omitempty"`
	RewardAmount        int64   `json:"reward_amount,omitempty"`
	ScheduleCronexpr    string  `json:"schedule_cronexpr,omitempty"`
}

// NewRaceConfig returns a RaceConfig populated with the default race
// parameters. The step length and track origin must stay aligned with the
// client scene.
func NewRaceConfig() *RaceConfig {
	return &RaceConfig{
		MaxSeats:            6,
		CountdownSeconds:    10,
		MinParticipants:     1,
		WinningScore:        21,
		TrackStartX:         0.0,
		StepX:               0.20,
		ClampMargin:         1.0,
		PositionIntervalMs:  50,
		AutoStartGraceMs:    2000,
		BotBaseIntervalMs:   9000,
		BotBaseSpreadMs:     3000,
		BotJitter:           0.4,
		BotArmDelayMs:       800,
		LeaderboardPeriodMs: 300,
		DisposeDelayMs:      1500,
		RewardCurrency:      "CO",
		RewardAmount:        20,
	}
}

func (c *RaceConfig) positionInterval() time.Duration {
	return time.Duration(c.PositionIntervalMs) * time.Millisecond
}

func (c *RaceConfig) autoStartGrace() time.Duration {
	return time.Duration(c.AutoStartGraceMs) * time.Millisecond
}

func (c *RaceConfig) botArmDelay() time.Duration {
	return time.Duration(c.BotArmDelayMs) * time.Millisecond
}

func (c *RaceConfig) leaderboardPeriod() time.Duration {
	return time.Duration(c.LeaderboardPeriodMs) * time.Millisecond
}

func (c *RaceConfig) disposeDelay() time.Duration {
	return time.Duration(c.DisposeDelayMs) * time.Millisecond
}

// maxTrackX is the upper clamp bound for client-reported progress positions.
func (c *RaceConfig) maxTrackX() float64 {
	return c.TrackStartX + c.StepX*float64(c.WinningScore) + c.ClampMargin
}

// minTrackX is the lower clamp bound for client-reported progress positions.
func (c *RaceConfig) minTrackX() float64 {
	return c.TrackStartX - c.ClampMargin
}

// trackX converts a score into the authoritative progress-axis position.
func (c *RaceConfig) trackX(score int) float64 {
	return c.TrackStartX + c.StepX*float64(score)
}

// LoadConfig reads a race configuration file through the Nakama runtime. A
// missing file is not an error: the defaults are used so the plugin can run
// without any configuration.
func LoadConfig(logger runtime.Logger, nk runtime.NakamaModule, configFile string) (*RaceConfig, error) {
	config := NewRaceConfig()

	configData, err := nk.ReadFile(configFile)
	if err != nil {
		logger.Info("Derby config file %s not found, using defaults.", configFile)
		return config, nil
	}
	defer configData.Close()

	configBytes, err := io.ReadAll(configData)
	if err != nil {
		logger.Error("Failed to read config file contents: %v", err)
		return nil, err
	}

	if err := json.Unmarshal(configBytes, config); err != nil {
		logger.Error("Failed to parse derby config: %v", err)
		return nil, err
	}

	return config, nil
}

// configFromParams overrides a copy of the base config with any recognized
// match creation parameters.
func configFromParams(base *RaceConfig, params map[string]interface{}) *RaceConfig {
	config := *base

	if v, ok := paramInt(params, "max_seats"); ok && v > 0 {
		config.MaxSeats = v
	}
	if v, ok := paramInt(params, "countdown_seconds"); ok && v > 0 {
		config.CountdownSeconds = v
	}
	if v, ok := paramInt(params, "min_participants"); ok && v > 0 {
		config.MinParticipants = v
	}
	if v, ok := paramInt(params, "winning_score"); ok && v > 0 {
		config.WinningScore = v
	}
	if v, ok := paramInt(params, "reward_amount"); ok && v > 0 {
		config.RewardAmount = int64(v)
	}

	return &config
}

func paramInt(params map[string]interface{}, key string) (int, bool) {
	switch v := params[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	default:
		return 0, false
	}
}
