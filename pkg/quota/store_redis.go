// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package quota

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "quota:"

// redisCommitLua applies a cursor batch atomically. It first verifies that
// every field still holds the cursor the decision was computed from, then
// writes all of them; a hash key per path, fields keyed by window millis.
// ARGV[1] is an expiry in seconds (0 disables); then one (field, prev, val)
// triple per entry of KEYS. Returns 1 on success, 0 when any row is stale.
const redisCommitLua = `
for i, key in ipairs(KEYS) do
	local field = ARGV[(i-1)*3 + 2]
	local prev = ARGV[(i-1)*3 + 3]
	local cur = redis.call('HGET', key, field)
	if prev == '0' then
		if cur then return 0 end
	elseif cur ~= prev then
		return 0
	end
end
local ttl = tonumber(ARGV[1])
for i, key in ipairs(KEYS) do
	local field = ARGV[(i-1)*3 + 2]
	local val = ARGV[(i-1)*3 + 4]
	redis.call('HSET', key, field, val)
	if ttl > 0 then
		redis.call('EXPIRE', key, ttl)
	end
end
return 1
`

// redisPurgeLua deletes the given fields of one hash, but only while they
// still hold the value they were scanned at, so a purge can never drop a
// cursor a concurrent commit just advanced. ARGV is (field, expected) pairs.
const redisPurgeLua = `
local deleted = 0
for i = 1, #ARGV, 2 do
	if redis.call('HGET', KEYS[1], ARGV[i]) == ARGV[i+1] then
		deleted = deleted + redis.call('HDEL', KEYS[1], ARGV[i])
	end
end
return deleted
`

// RedisStore persists cursors in Redis, one hash per concrete path with one
// field per tier window. The commit script runs server-side, which makes
// the batch atomic and the stale-read check race-free.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore creates a cursor store on the given client. keyPrefix
// namespaces all hash keys (default "quota:"); a positive ttl refreshes key
// expiry on every commit so abandoned paths age out on their own.
func NewRedisStore(client *redis.Client, keyPrefix string, ttl time.Duration) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if keyPrefix == "" {
		keyPrefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: keyPrefix, ttl: ttl}, nil
}

func (s *RedisStore) key(path string) string {
	return s.prefix + path
}

// FindByPath returns every cursor row recorded for the path.
func (s *RedisStore) FindByPath(ctx context.Context, path string) ([]Row, error) {
	fields, err := s.client.HGetAll(ctx, s.key(path)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load cursors for %q: %w", path, err)
	}

	rows := make([]Row, 0, len(fields))
	for field, value := range fields {
		windowMillis, err := strconv.ParseInt(field, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode window field %q for %q: %w", field, path, err)
		}
		cursorMillis, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode cursor %q for %q: %w", value, path, err)
		}
		rows = append(rows, Row{Path: path, WindowMillis: windowMillis, CursorMillis: cursorMillis})
	}
	return rows, nil
}

// Commit applies the batch through one server-side script run: all rows are
// checked against their previous cursors and written together, or the whole
// batch fails with ErrStaleCursor.
func (s *RedisStore) Commit(ctx context.Context, upserts []Upsert) error {
	if len(upserts) == 0 {
		return nil
	}

	keys := make([]string, len(upserts))
	argv := make([]interface{}, 0, 1+len(upserts)*3)
	argv = append(argv, strconv.FormatInt(int64(s.ttl/time.Second), 10))
	for i, u := range upserts {
		keys[i] = s.key(u.Path)
		argv = append(argv,
			strconv.FormatInt(u.WindowMillis, 10),
			strconv.FormatInt(u.PrevCursorMillis, 10),
			strconv.FormatInt(u.CursorMillis, 10))
	}

	applied, err := s.client.Eval(ctx, redisCommitLua, keys, argv...).Int64()
	if err != nil {
		return fmt.Errorf("failed to run commit script: %w", err)
	}
	if applied != 1 {
		return ErrStaleCursor
	}
	return nil
}

// PurgeBefore drops every field whose cursor lies before the cutoff. Each
// deletion is conditional on the scanned value so concurrent commits are
// never clobbered.
func (s *RedisStore) PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	cutoffMillis := cutoff.UnixMilli()

	var deleted int64
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 128).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return deleted, fmt.Errorf("failed to load hash %q: %w", key, err)
		}

		var stale []interface{}
		for field, value := range fields {
			cursorMillis, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				continue
			}
			if cursorMillis < cutoffMillis {
				stale = append(stale, field, value)
			}
		}
		if len(stale) == 0 {
			continue
		}

		n, err := s.client.Eval(ctx, redisPurgeLua, []string{key}, stale...).Int64()
		if err != nil {
			return deleted, fmt.Errorf("failed to purge hash %q: %w", key, err)
		}
		deleted += n
	}
	if err := iter.Err(); err != nil {
		return deleted, fmt.Errorf("failed to scan cursor keys: %w", err)
	}
	return deleted, nil
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
