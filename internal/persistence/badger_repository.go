package persistence

import (
	"alpharius-go/internal/models"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v3"
)

const keyPrefix = "bars/"

// badgerRepository is the BadgerDB implementation of the BarRepository.
type badgerRepository struct {
	db  *badger.DB
	ttl time.Duration
}

// NewBadgerRepository creates and returns a new repository instance connected to a BadgerDB database.
// Entries expire after ttl; a zero ttl keeps them forever.
func NewBadgerRepository(dbPath string, ttl time.Duration) (BarRepository, error) {
	opts := badger.DefaultOptions(dbPath)
	// Badger's own logging would interleave with ours; errors still surface from DB operations.
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	return &badgerRepository{db: db, ttl: ttl}, nil
}

// SaveSeries marshals the series into JSON and stores it under the prefixed key.
func (r *badgerRepository) SaveSeries(key string, series models.Series) error {
	data, err := json.Marshal(series)
	if err != nil {
		return err
	}

	return r.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(keyPrefix+key), data)
		if r.ttl > 0 {
			entry = entry.WithTTL(r.ttl)
		}
		return txn.SetEntry(entry)
	})
}

// LoadSeries loads a series from storage.
func (r *badgerRepository) LoadSeries(key string) (models.Series, bool, error) {
	var series models.Series

	err := r.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(keyPrefix + key))
		if err != nil {
			return err
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				return errors.New("series value is empty in database")
			}
			return json.Unmarshal(val, &series)
		})
	})

	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	for i := range series {
		series[i].Time = series[i].Time.In(models.MarketLocation())
	}
	return series, true, nil
}

// Close gracefully closes the connection to the database.
func (r *badgerRepository) Close() error {
	return r.db.Close()
}
