package garage

import (
	"context"
	"fmt"

	"github.com/neonrush/race-coordinator/internal/store"
)

// Garage resolves the car a player currently has selected.
type Garage interface {
	SelectedCar(ctx context.Context, playerID string) (string, error)
}

// StoreGarage reads selections from the shared store, under each player's
// own user record.
type StoreGarage struct {
	Store store.Store
}

func (g StoreGarage) SelectedCar(ctx context.Context, playerID string) (string, error) {
	v, err := g.Store.Read(ctx, store.Join("users", playerID, "selectedCar"))
	if err != nil {
		return "", fmt.Errorf("failed to read selected car: %w", err)
	}
	carID, _ := v.(string)
	return carID, nil
}

// Static always returns the same car id; used by tests.
type Static struct {
	CarID string
}

func (s Static) SelectedCar(ctx context.Context, playerID string) (string, error) {
	return s.CarID, nil
}
