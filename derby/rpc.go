package derby

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"
)

const (
	rpcIDRaceCreate       = "race_create"
	rpcIDRaceFind         = "race_find"
	rpcIDRaceScheduleNext = "race_schedule_next"
)

// raceFindLimit caps how many joinable races a single listing returns.
const raceFindLimit = 10

// RegisterRpcs registers the derby RPCs with the game server.
func RegisterRpcs(initializer runtime.Initializer, config *RaceConfig) error {
	if err := initializer.RegisterRpc(rpcIDRaceCreate, rpcRaceCreate()); err != nil {
		return err
	}
	if err := initializer.RegisterRpc(rpcIDRaceFind, rpcRaceFind()); err != nil {
		return err
	}
	if err := initializer.RegisterRpc(rpcIDRaceScheduleNext, rpcRaceScheduleNext(NewRaceSchedule(config.ScheduleCronexpr))); err != nil {
		return err
	}
	return nil
}

// rpcRaceCreate creates a new race match. The optional payload may override
// recognized race parameters for this session only.
func rpcRaceCreate() func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		params := map[string]interface{}{}
		if payload != "" {
			if err := json.Unmarshal([]byte(payload), &params); err != nil {
				return "", ErrPayloadDecode
			}
		}

		matchID, err := nk.MatchCreate(ctx, ModuleName, params)
		if err != nil {
			logger.Error("Failed to create race match: %v", err)
			return "", ErrInternal
		}

		response, err := json.Marshal(map[string]string{"match_id": matchID})
		if err != nil {
			return "", ErrPayloadEncode
		}
		return string(response), nil
	}
}

// rpcRaceFind lists joinable races: authoritative matches whose label still
// advertises open seats.
func rpcRaceFind() func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		matches, err := nk.MatchList(ctx, raceFindLimit, true, "", nil, nil, "+label.open:>0")
		if err != nil {
			logger.Error("Failed to list race matches: %v", err)
			return "", ErrInternal
		}

		type raceEntry struct {
			MatchID string `json:"match_id"`
			Label   string `json:"label"`
		}
		entries := make([]*raceEntry, 0, len(matches))
		for _, match := range matches {
			entries = append(entries, &raceEntry{
				MatchID: match.MatchId,
				Label:   match.Label.GetValue(),
			})
		}

		response, err := json.Marshal(entries)
		if err != nil {
			return "", ErrPayloadEncode
		}
		return string(response), nil
	}
}

// rpcRaceScheduleNext reports the next scheduled derby post time, if a
// schedule is configured.
func rpcRaceScheduleNext(schedule *RaceSchedule) func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		next, err := schedule.Next(time.Now().UTC())
		if err != nil {
			return "", err
		}

		response, err := json.Marshal(map[string]string{"next": next.Format(time.RFC3339)})
		if err != nil {
			return "", ErrPayloadEncode
		}
		return string(response), nil
	}
}
