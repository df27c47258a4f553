package storage

import (
	"fmt"
	"strconv"

	"github.com/cockroachdb/pebble"
)

// CurrentSchemaVersion is the layout this binary reads and writes.
const CurrentSchemaVersion uint32 = 2

// Migration moves the store from Version-1 to Version. Apply may be nil when a
// version only appends fields that old records decode without.
type Migration struct {
	Version     uint32
	Description string
	Apply       func(db *pebble.DB, b *pebble.Batch) error
}

var migrations = []Migration{
	{Version: 1, Description: "offer table, fee config and owner"},
	{Version: 2, Description: "per-caller request nonces"},
}

func (s *PebbleStore) SchemaVersion() (uint32, error) {
	data, closer, err := s.db.Get([]byte(keySchema))
	if err == pebble.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get schema version: %w", err)
	}
	defer closer.Close()

	v, err := strconv.ParseUint(string(data), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid schema version %q: %w", data, err)
	}
	return uint32(v), nil
}

// Migrate applies every pending migration in one batch. It writes nothing when
// the store is already at CurrentSchemaVersion.
func (s *PebbleStore) Migrate() (from, to uint32, err error) {
	from, err = s.SchemaVersion()
	if err != nil {
		return 0, 0, err
	}
	if from > CurrentSchemaVersion {
		return from, from, fmt.Errorf("database schema %d is newer than supported %d", from, CurrentSchemaVersion)
	}
	if from == CurrentSchemaVersion {
		return from, from, nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	to = from
	for _, m := range migrations {
		if m.Version <= from {
			continue
		}
		if m.Apply != nil {
			if err := m.Apply(s.db, batch); err != nil {
				return from, from, fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
			}
		}
		to = m.Version
	}
	if err := batch.Set([]byte(keySchema), []byte(strconv.FormatUint(uint64(to), 10)), nil); err != nil {
		return from, from, fmt.Errorf("failed to stage schema version: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return from, from, fmt.Errorf("failed to commit migration: %w", err)
	}
	return from, to, nil
}
