package main

import (
	"context"
	"database/sql"
	"time"

	"github.com/heroiclabs/nakama-common/runtime"

	"derbyrace/derby"
)

// main is never invoked: Nakama loads this module as a plugin and calls
// InitModule. It exists so the package links as an ordinary binary too.
func main() {}

// noinspection GoUnusedExportedFunction
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	initStart := time.Now()

	logger.Info("Loading Derby race Nakama plugin...")

	cfg, err := derby.LoadConfig(logger, nk, "derby.json")
	if err != nil {
		logger.Error("Failed to load derby config: %v", err)
		return err
	}

	if err := initializer.RegisterMatch(derby.ModuleName, derby.NewRaceMatchFactory(cfg)); err != nil {
		logger.Error("Failed to register %s match handler: %v", derby.ModuleName, err)
		return err
	}

	if err := derby.RegisterRpcs(initializer, cfg); err != nil {
		logger.Error("Failed to register derby RPCs: %v", err)
		return err
	}

	logger.Info("Derby race Nakama plugin loaded in '%d' msec.", time.Now().Sub(initStart).Milliseconds())
	return nil
}
