package peer

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// keyTTL bounds how long a stale peer entry survives an FNE crash without
// a clean disconnect, generalizing DMRHub's storePeer 5-minute expiry.
const keyTTL = 15 * time.Minute

func redisKey(peerID uint32) string {
	return fmt.Sprintf("fne:peer:%d", peerID)
}

// store is the minimal key-value contract Table needs. redisStore
// satisfies it against a live Redis deployment (spec.md §5 "shared-lock
// pattern for fan-out"); tests substitute an in-memory fake so the
// handshake state machine can be exercised without a Redis instance.
type store interface {
	set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	get(ctx context.Context, key string) ([]byte, bool, error)
	del(ctx context.Context, key string) error
	scanKeys(ctx context.Context, pattern string) ([]string, error)
}

// redisStore adapts *redis.Client to store, generalizing DMRHub's
// ThreadedUDPServer peer:<id> key scheme to the full Connection.
type redisStore struct {
	rdb *redis.Client
}

func (s *redisStore) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *redisStore) get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *redisStore) del(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key).Err()
}

func (s *redisStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var cursor uint64
	var keys []string
	for {
		batch, next, err := s.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

// Table is the peer table (spec.md §3 "Peer connection"), shared across
// a federation of FNE worker processes via its backing store.
type Table struct {
	backing store
}

// NewTable constructs a Table backed by rdb.
func NewTable(rdb *redis.Client) *Table {
	return &Table{backing: &redisStore{rdb: rdb}}
}

// newTableWithStore constructs a Table against an arbitrary store,
// used by tests to substitute an in-memory fake for Redis.
func newTableWithStore(backing store) *Table {
	return &Table{backing: backing}
}

// Store persists conn, refreshing its TTL.
func (t *Table) Store(ctx context.Context, conn Connection) error {
	b, err := conn.MarshalMsg(nil)
	if err != nil {
		return fmt.Errorf("marshaling peer %d: %w", conn.PeerID, err)
	}
	if err := t.backing.set(ctx, redisKey(conn.PeerID), b, keyTTL); err != nil {
		return fmt.Errorf("storing peer %d: %w", conn.PeerID, err)
	}
	return nil
}

// Get fetches the connection for peerID.
func (t *Table) Get(ctx context.Context, peerID uint32) (Connection, bool, error) {
	b, ok, err := t.backing.get(ctx, redisKey(peerID))
	if err != nil {
		return Connection{}, false, fmt.Errorf("fetching peer %d: %w", peerID, err)
	}
	if !ok {
		return Connection{}, false, nil
	}
	var conn Connection
	if _, err := conn.UnmarshalMsg(b); err != nil {
		return Connection{}, false, fmt.Errorf("unmarshaling peer %d: %w", peerID, err)
	}
	return conn, true, nil
}

// Exists reports whether peerID currently has a table entry.
func (t *Table) Exists(ctx context.Context, peerID uint32) (bool, error) {
	_, ok, err := t.backing.get(ctx, redisKey(peerID))
	return ok, err
}

// Delete removes peerID from the table.
func (t *Table) Delete(ctx context.Context, peerID uint32) error {
	if err := t.backing.del(ctx, redisKey(peerID)); err != nil {
		return fmt.Errorf("deleting peer %d: %w", peerID, err)
	}
	return nil
}

// Count returns the number of peers currently connected, used to enforce
// the soft/hard cap on login (spec.md §4.2).
func (t *Table) Count(ctx context.Context) (int, error) {
	keys, err := t.backing.scanKeys(ctx, "fne:peer:*")
	if err != nil {
		return 0, fmt.Errorf("scanning peer table: %w", err)
	}
	return len(keys), nil
}

// ForEach visits every connected peer.
func (t *Table) ForEach(ctx context.Context, fn func(Connection) error) error {
	keys, err := t.backing.scanKeys(ctx, "fne:peer:*")
	if err != nil {
		return fmt.Errorf("scanning peer table: %w", err)
	}
	for _, key := range keys {
		b, ok, err := t.backing.get(ctx, key)
		if err != nil {
			return fmt.Errorf("fetching %s: %w", key, err)
		}
		if !ok {
			continue
		}
		var conn Connection
		if _, err := conn.UnmarshalMsg(b); err != nil {
			return fmt.Errorf("unmarshaling %s: %w", key, err)
		}
		if err := fn(conn); err != nil {
			return err
		}
	}
	return nil
}
