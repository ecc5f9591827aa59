package badger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/observability"
	"risk-view-engine/internal/storage"
)

const statisticsPrefix = "fnstats/"

// StatisticsStore implements storage.StatisticsStore on BadgerDB. Records are
// JSON encoded under fnstats/<configuration>NUL<function>. Badger iterates
// keys in byte order and the NUL separator sorts below every printable byte,
// so Load yields configuration then function ordering.
type StatisticsStore struct {
	db *badger.DB
}

// NewStatisticsStore creates a store over an open database.
func NewStatisticsStore(db *badger.DB) *StatisticsStore {
	return &StatisticsStore{db: db}
}

// Compile-time interface check.
var _ storage.StatisticsStore = (*StatisticsStore)(nil)

func statisticsKey(configuration, functionID string) []byte {
	return []byte(statisticsPrefix + configuration + "\x00" + functionID)
}

// Save upserts all records in a single write batch.
func (s *StatisticsStore) Save(ctx context.Context, records []*domain.FunctionCosts) (err error) {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r == nil || r.FunctionID == "" {
			return storage.ErrInvalidInput
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("badger", "save_statistics", time.Since(start).Seconds(), err)
	}()

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, r := range records {
		c := *r
		if c.UpdatedAt.IsZero() {
			c.UpdatedAt = time.Now().UTC()
		}
		data, err := json.Marshal(&c)
		if err != nil {
			return fmt.Errorf("encode statistics %s/%s: %w", c.Configuration, c.FunctionID, err)
		}
		if err := wb.Set(statisticsKey(c.Configuration, c.FunctionID), data); err != nil {
			return fmt.Errorf("set statistics %s/%s: %w", c.Configuration, c.FunctionID, err)
		}
	}

	if err = wb.Flush(); err != nil {
		return fmt.Errorf("flush statistics: %w", err)
	}
	return nil
}

// Load returns all records ordered by configuration, then function.
func (s *StatisticsStore) Load(ctx context.Context) (_ []*domain.FunctionCosts, err error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	start := time.Now()
	defer func() {
		observability.RecordDBQuery("badger", "load_statistics", time.Since(start).Seconds(), err)
	}()

	var result []*domain.FunctionCosts
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(statisticsPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var r domain.FunctionCosts
				if err := json.Unmarshal(val, &r); err != nil {
					return fmt.Errorf("decode statistics %q: %w", item.Key(), err)
				}
				result = append(result, &r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
