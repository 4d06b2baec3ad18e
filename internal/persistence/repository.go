package persistence

import "alpharius-go/internal/models"

// BarRepository defines the interface for bar series persistence.
// It abstracts the underlying storage mechanism (e.g., BadgerDB, in-memory)
// from the market data layer.
type BarRepository interface {
	// SaveSeries stores a series under key, replacing any previous value.
	SaveSeries(key string, series models.Series) error

	// LoadSeries loads the series stored under key.
	// If nothing is stored, it returns (nil, false, nil).
	LoadSeries(key string) (models.Series, bool, error)

	// Close gracefully closes the connection to the database.
	Close() error
}
