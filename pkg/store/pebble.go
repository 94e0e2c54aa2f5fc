package store

import (
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"

	"chatmon/pkg/logger"
	"chatmon/pkg/models"
)

var db *pebble.DB

// seq reduces key collisions when multiple actions share the same
// nanosecond timestamp.
var seq uint64

const actionPrefix = "action:"

// Open opens (or creates) a Pebble database at the given path and keeps
// a global handle for simple usage in this package.
func Open(path string) error {
	var err error
	logger.Info("opening_journal", "path", path)
	db, err = pebble.Open(path, &pebble.Options{})
	if err != nil {
		logger.Error("journal_open_failed", "path", path, "error", err)
		return err
	}
	logger.Info("journal_opened", "path", path)
	return nil
}

// Close closes the opened pebble DB if present.
func Close() error {
	if db == nil {
		return nil
	}
	if err := db.Close(); err != nil {
		return err
	}
	db = nil
	logger.Info("journal_closed")
	return nil
}

// Ready reports whether the journal is opened and ready.
func Ready() bool {
	return db != nil
}

// actionKey builds a sortable journal key from a nanosecond timestamp.
func actionKey(ts int64, s uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d-%06d", actionPrefix, ts, s))
}

// AppendAction appends a completed action to the journal. The action's TS
// is set to now when the caller left it zero.
func AppendAction(a models.Action) error {
	if db == nil {
		return fmt.Errorf("journal not opened; call store.Open first")
	}
	if a.TS == 0 {
		a.TS = time.Now().UTC().UnixNano()
	}
	s := atomic.AddUint64(&seq, 1)
	key := actionKey(a.TS, s)

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal action: %w", err)
	}
	if err := db.Set(key, data, pebble.Sync); err != nil {
		logger.Error("append_action_failed", "kind", a.Kind, "error", err)
		return err
	}
	actionsAppended.WithLabelValues(a.Kind).Inc()
	logger.Debug("action_appended", "kind", a.Kind, "chat", a.ChatID)
	return nil
}

// ListActionsSince returns journal entries with TS >= since (ns), in
// append order.
func ListActionsSince(since int64) ([]models.Action, error) {
	if db == nil {
		return nil, fmt.Errorf("journal not opened; call store.Open first")
	}
	lower := actionKey(since, 0)
	upper := []byte(actionPrefix + "~") // '~' sorts after all digits
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []models.Action
	for iter.First(); iter.Valid(); iter.Next() {
		var a models.Action
		if err := json.Unmarshal(iter.Value(), &a); err != nil {
			logger.Warn("journal_entry_unreadable", "key", string(iter.Key()), "error", err)
			continue
		}
		out = append(out, a)
	}
	return out, iter.Error()
}

// PruneBefore deletes journal entries older than the cutoff (ns) and
// returns how many were removed. Used by the summary scheduler to keep
// the journal bounded.
func PruneBefore(cutoff int64) (int, error) {
	if db == nil {
		return 0, fmt.Errorf("journal not opened; call store.Open first")
	}
	lower := []byte(actionPrefix)
	upper := actionKey(cutoff, 0)
	iter, err := db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return 0, err
	}
	var keys [][]byte
	for iter.First(); iter.Valid(); iter.Next() {
		k := append([]byte(nil), iter.Key()...)
		keys = append(keys, k)
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	for _, k := range keys {
		if err := db.Delete(k, pebble.Sync); err != nil {
			return 0, err
		}
	}
	if len(keys) > 0 {
		logger.Info("journal_pruned", "count", len(keys))
	}
	return len(keys), nil
}
