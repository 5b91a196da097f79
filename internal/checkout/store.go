package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "checkout:"

// DefaultStateTTL bounds how long an abandoned checkout is kept.
const DefaultStateTTL = 2 * time.Hour

var (
	// ErrNotFound is returned for unknown or expired checkouts.
	ErrNotFound = errors.New("checkout not found")
	// ErrConflict is returned when the checkout changed after it was loaded.
	ErrConflict = errors.New("checkout was changed by another request")
)

// saveScript writes the state only if the stored version is the one the caller loaded.
// A new checkout is saved with version 0.
var saveScript = redis.NewScript(`
	local key = KEYS[1]
	local expected = tonumber(ARGV[1])
	local current = redis.call('HGET', key, 'version')
	if current == false then
		if expected ~= 0 then
			return -1
		end
	elseif tonumber(current) ~= expected then
		return 0
	end
	redis.call('HSET', key, 'state', ARGV[2], 'version', expected + 1)
	redis.call('PEXPIRE', key, ARGV[3])
	return 1
`)

// Store persists order state in Redis so any instance can continue a checkout.
type Store struct {
	client redis.Cmdable
	ttl    time.Duration
}

// NewStore creates a Redis-backed checkout store.
func NewStore(client redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultStateTTL
	}
	return &Store{client: client, ttl: ttl}
}

func stateKey(id string) string { return keyPrefix + id }

// Get loads a checkout with its version.
func (s *Store) Get(ctx context.Context, id string) (*OrderState, error) {
	vals, err := s.client.HMGet(ctx, stateKey(id), "state", "version").Result()
	if err != nil {
		return nil, fmt.Errorf("get checkout: %w", err)
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, ErrNotFound
	}
	var st OrderState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode checkout: %w", err)
	}
	if v, ok := vals[1].(string); ok {
		if st.Version, err = strconv.ParseInt(v, 10, 64); err != nil {
			return nil, fmt.Errorf("decode checkout version: %w", err)
		}
	}
	return &st, nil
}

// Save writes a checkout, bumps its version and refreshes its TTL. It fails with ErrConflict
// when another request saved the checkout since st was loaded.
func (s *Store) Save(ctx context.Context, st *OrderState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode checkout: %w", err)
	}
	res, err := saveScript.Run(ctx, s.client, []string{stateKey(st.ID)}, st.Version, raw, s.ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("save checkout: %w", err)
	}
	switch res {
	case 1:
		st.Version++
		return nil
	case 0:
		return ErrConflict
	default:
		return ErrNotFound
	}
}
