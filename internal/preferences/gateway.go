// Package preferences stores the per-zone sort option.
package preferences

//go:generate go run go.uber.org/mock/mockgen@latest -destination=mocks/mock_gateway.go -package=mocks github.com/kalambet/pouch/internal/preferences Gateway

import (
	"context"

	"github.com/kalambet/pouch/internal/storage"
)

// Gateway persists one sort option per zone.
type Gateway interface {
	// SaveSortOption stores option as the choice for zone.
	SaveSortOption(ctx context.Context, option storage.SortOption, zone storage.Zone) error

	// SortOptionStream emits the current option for zone, then every change
	// to it, until ctx is done. An unset zone reads as
	// storage.DefaultSortOption.
	SortOptionStream(ctx context.Context, zone storage.Zone) (<-chan storage.SortOption, error)
}
