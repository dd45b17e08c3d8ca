package app

import (
	"context"
	"encoding/json"
	"fmt"

	"farewatch/internal/runstate"
	"farewatch/internal/scheduler"
)

// Check performs one externally triggered check and prints the outcome as
// JSON. The exit status stays zero when the check records a fetch error.
func (a *App) Check(ctx context.Context) error {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	checker := a.newChecker(runstate.New(), store, nil)
	res := scheduler.NewTriggered(checker, a.Logger).Trigger(ctx)

	encoder := json.NewEncoder(a.Out)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(res); err != nil {
		return fmt.Errorf("encode check result: %w", err)
	}
	return nil
}
