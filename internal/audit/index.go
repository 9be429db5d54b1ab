package audit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/strukta/bastion/internal/logger"
	"github.com/strukta/bastion/internal/store"
)

const (
	eventKeyPrefix = "audit:evt:"
	actorKeyPrefix = "audit:actor:"
	ipKeyPrefix    = "audit:ip:"
)

// Index maintains a secondary time/actor/IP index over recorded events
// in a fast key-value store so queries never touch the append-only log.
type Index struct {
	kv  store.Store
	log logger.Logger
}

// NewIndex creates an index over the given store.
func NewIndex(kv store.Store, log logger.Logger) *Index {
	return &Index{kv: kv, log: log}
}

// eventKey orders events lexicographically by timestamp. The ID suffix
// keeps keys unique for events sharing a nanosecond.
func eventKey(e *Event) string {
	return fmt.Sprintf("%s%019d:%s", eventKeyPrefix, e.Timestamp.UnixNano(), e.ID)
}

// Put stores the event and its secondary keys.
func (ix *Index) Put(e *Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}

	key := eventKey(e)
	if err := ix.kv.Put(key, payload); err != nil {
		return err
	}

	if e.ActorID != "" {
		ak := fmt.Sprintf("%s%s:%019d:%s", actorKeyPrefix, e.ActorID, e.Timestamp.UnixNano(), e.ID)
		if err := ix.kv.Put(ak, []byte(key)); err != nil {
			return err
		}
	}
	if e.SourceIP != "" {
		ik := fmt.Sprintf("%s%s:%019d:%s", ipKeyPrefix, e.SourceIP, e.Timestamp.UnixNano(), e.ID)
		if err := ix.kv.Put(ik, []byte(key)); err != nil {
			return err
		}
	}
	return nil
}

// Query returns events matching the filter, oldest first.
func (ix *Index) Query(f Filter) ([]Event, error) {
	keys, err := ix.candidateKeys(f)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(keys))
	for _, key := range keys {
		ts, ok := timestampOfKey(key)
		if !ok {
			continue
		}
		if !f.From.IsZero() && ts.Before(f.From) {
			continue
		}
		if !f.To.IsZero() && ts.After(f.To) {
			continue
		}

		raw, err := ix.kv.Get(key)
		if err != nil {
			if err == store.ErrKeyNotFound {
				continue
			}
			return nil, err
		}
		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			ix.log.Warn("skipping undecodable audit record", logger.String("key", key), logger.Error(err))
			continue
		}
		if f.Type != "" && e.Type != f.Type {
			continue
		}
		events = append(events, e)
		if f.Limit > 0 && len(events) >= f.Limit {
			break
		}
	}
	return events, nil
}

// candidateKeys resolves the event keys to inspect, preferring the actor
// index when the filter names an actor.
func (ix *Index) candidateKeys(f Filter) ([]string, error) {
	if f.ActorID == "" {
		return ix.kv.Scan(eventKeyPrefix)
	}

	refs, err := ix.kv.Scan(actorKeyPrefix + f.ActorID + ":")
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(refs))
	for _, ref := range refs {
		target, err := ix.kv.Get(ref)
		if err != nil {
			if err == store.ErrKeyNotFound {
				continue
			}
			return nil, err
		}
		keys = append(keys, string(target))
	}
	return keys, nil
}

// Compact removes indexed events older than the cutoff. Maintenance
// operation, never on the hot path.
func (ix *Index) Compact(olderThan time.Time) (int, error) {
	removed := 0
	for _, prefix := range []string{eventKeyPrefix, actorKeyPrefix, ipKeyPrefix} {
		keys, err := ix.kv.Scan(prefix)
		if err != nil {
			return removed, err
		}
		for _, key := range keys {
			ts, ok := timestampOfKey(key)
			if !ok || !ts.Before(olderThan) {
				continue
			}
			if err := ix.kv.Delete(key); err != nil {
				return removed, err
			}
			if strings.HasPrefix(key, eventKeyPrefix) {
				removed++
			}
		}
	}
	return removed, nil
}

// timestampOfKey extracts the embedded nanosecond timestamp. All index
// key shapes end with ":<19-digit-nanos>:<id>".
func timestampOfKey(key string) (time.Time, bool) {
	parts := strings.Split(key, ":")
	if len(parts) < 2 {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(parts[len(parts)-2], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos).UTC(), true
}
