// Package redisstore keeps ledger state and SIWS challenges in Redis.
//
// Keys, under a configurable prefix:
//
//	token:{id}          hash  owner, approved
//	tokens              set   every minted id
//	owned:{principal}   set   ids held by principal
//	operators:{owner}   set   principals approved for all of owner's tokens
//	expiry              hash  id -> expiresAt
//	expiry:idx          zset  id scored by expiresAt, zero expiries omitted
//
// Multi-key mutations run as Lua scripts so each is atomic on the server.
package redisstore

import (
	"context"
	"errors"
	"slices"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/PaulFidika/subledger/entitlements"
)

var _ entitlements.Backend = (*Store)(nil)

var (
	registerScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], 'owner', ARGV[1]) == 0 then return 0 end
redis.call('SADD', KEYS[2], ARGV[2])
redis.call('SADD', KEYS[3], ARGV[2])
return 1`)

	transferScript = redis.NewScript(`
local owner = redis.call('HGET', KEYS[1], 'owner')
if not owner then return -1 end
if owner ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'owner', ARGV[2])
redis.call('HDEL', KEYS[1], 'approved')
redis.call('SREM', KEYS[2], ARGV[3])
redis.call('SADD', KEYS[3], ARGV[3])
return 1`)

	setExpiryIfOwnerScript = redis.NewScript(`
local owner = redis.call('HGET', KEYS[1], 'owner')
if not owner then return -1 end
if owner ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[2], ARGV[2], ARGV[3])
if ARGV[3] == '0' then
  redis.call('ZREM', KEYS[3], ARGV[2])
else
  redis.call('ZADD', KEYS[3], ARGV[3], ARGV[2])
end
return 1`)

	approveScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 0 end
if ARGV[1] == '' then
  redis.call('HDEL', KEYS[1], 'approved')
else
  redis.call('HSET', KEYS[1], 'approved', ARGV[1])
end
return 1`)
)

// Store implements entitlements.Backend on Redis.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
	// owns reports whether Close should close rdb.
	owns bool
}

// Option configures a Store.
type Option func(*Store)

// WithPrefix namespaces every key. Defaults to "subledger:".
func WithPrefix(p string) Option { return func(s *Store) { s.prefix = p } }

// New wraps an existing client. Close leaves the client open.
func New(rdb redis.UniversalClient, opts ...Option) *Store {
	s := &Store{rdb: rdb, prefix: "subledger:"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open parses a redis:// URL, pings the server and returns a store that owns the client.
func Open(ctx context.Context, url string, opts ...Option) (*Store, error) {
	o, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(o)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	s := New(rdb, opts...)
	s.owns = true
	return s, nil
}

// Client exposes the underlying client so the challenge cache and limiter can share it.
func (s *Store) Client() redis.UniversalClient { return s.rdb }

func (s *Store) Close() error {
	if s.owns {
		return s.rdb.Close()
	}
	return nil
}

func (s *Store) tokenKey(id entitlements.TokenID) string  { return s.prefix + "token:" + id.String() }
func (s *Store) ownedKey(p entitlements.Principal) string { return s.prefix + "owned:" + string(p) }
func (s *Store) operatorsKey(p entitlements.Principal) string {
	return s.prefix + "operators:" + string(p)
}
func (s *Store) tokensKey() string    { return s.prefix + "tokens" }
func (s *Store) expiryKey() string    { return s.prefix + "expiry" }
func (s *Store) expiryIdxKey() string { return s.prefix + "expiry:idx" }

func (s *Store) Exists(ctx context.Context, id entitlements.TokenID) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.tokenKey(id)).Result()
	return n == 1, err
}

func (s *Store) OwnerOf(ctx context.Context, id entitlements.TokenID) (entitlements.Principal, error) {
	owner, err := s.rdb.HGet(ctx, s.tokenKey(id), "owner").Result()
	if errors.Is(err, redis.Nil) {
		return "", entitlements.ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return entitlements.Principal(owner), nil
}

func (s *Store) Register(ctx context.Context, id entitlements.TokenID, owner entitlements.Principal) error {
	keys := []string{s.tokenKey(id), s.ownedKey(owner), s.tokensKey()}
	n, err := registerScript.Run(ctx, s.rdb, keys, string(owner), id.String()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return entitlements.ErrAlreadyExists
	}
	return nil
}

func (s *Store) Transfer(ctx context.Context, id entitlements.TokenID, from, to entitlements.Principal) error {
	keys := []string{s.tokenKey(id), s.ownedKey(from), s.ownedKey(to)}
	n, err := transferScript.Run(ctx, s.rdb, keys, string(from), string(to), id.String()).Int()
	if err != nil {
		return err
	}
	switch n {
	case -1:
		return entitlements.ErrNotFound
	case 0:
		return entitlements.ErrUnauthorized
	}
	return nil
}

func (s *Store) Approve(ctx context.Context, id entitlements.TokenID, delegate entitlements.Principal) error {
	n, err := approveScript.Run(ctx, s.rdb, []string{s.tokenKey(id)}, string(delegate)).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return entitlements.ErrNotFound
	}
	return nil
}

func (s *Store) GetApproved(ctx context.Context, id entitlements.TokenID) (entitlements.Principal, error) {
	vals, err := s.rdb.HMGet(ctx, s.tokenKey(id), "owner", "approved").Result()
	if err != nil {
		return "", err
	}
	if vals[0] == nil {
		return "", entitlements.ErrNotFound
	}
	approved, _ := vals[1].(string)
	return entitlements.Principal(approved), nil
}

func (s *Store) SetApprovalForAll(ctx context.Context, owner, operator entitlements.Principal, approved bool) error {
	if approved {
		return s.rdb.SAdd(ctx, s.operatorsKey(owner), string(operator)).Err()
	}
	return s.rdb.SRem(ctx, s.operatorsKey(owner), string(operator)).Err()
}

func (s *Store) IsApprovedForAll(ctx context.Context, owner, operator entitlements.Principal) (bool, error) {
	return s.rdb.SIsMember(ctx, s.operatorsKey(owner), string(operator)).Result()
}

func (s *Store) TotalSupply(ctx context.Context) (uint64, error) {
	n, err := s.rdb.SCard(ctx, s.tokensKey()).Result()
	return uint64(n), err
}

func (s *Store) BalanceOf(ctx context.Context, owner entitlements.Principal) (uint64, error) {
	n, err := s.rdb.SCard(ctx, s.ownedKey(owner)).Result()
	return uint64(n), err
}

func (s *Store) TokensOf(ctx context.Context, owner entitlements.Principal) ([]entitlements.TokenID, error) {
	members, err := s.rdb.SMembers(ctx, s.ownedKey(owner)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]entitlements.TokenID, 0, len(members))
	for _, m := range members {
		id, err := entitlements.ParseTokenID(m)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	slices.Sort(out)
	return out, nil
}

func (s *Store) SetExpiry(ctx context.Context, id entitlements.TokenID, expiresAt entitlements.Timestamp) error {
	member := id.String()
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, s.expiryKey(), member, strconv.FormatUint(expiresAt, 10))
	if expiresAt == 0 {
		pipe.ZRem(ctx, s.expiryIdxKey(), member)
	} else {
		pipe.ZAdd(ctx, s.expiryIdxKey(), redis.Z{Score: float64(expiresAt), Member: member})
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) SetExpiryIfOwner(ctx context.Context, id entitlements.TokenID, owner entitlements.Principal, expiresAt entitlements.Timestamp) error {
	keys := []string{s.tokenKey(id), s.expiryKey(), s.expiryIdxKey()}
	n, err := setExpiryIfOwnerScript.Run(ctx, s.rdb, keys,
		string(owner), id.String(), strconv.FormatUint(expiresAt, 10)).Int()
	if err != nil {
		return err
	}
	switch n {
	case 1:
		return nil
	case -1:
		return entitlements.ErrNotFound
	default:
		return entitlements.ErrUnauthorized
	}
}

func (s *Store) Expiry(ctx context.Context, id entitlements.TokenID) (entitlements.Timestamp, error) {
	v, err := s.rdb.HGet(ctx, s.expiryKey(), id.String()).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(v, 10, 64)
}

// ExpiringBetween uses the score index to narrow the range and then filters on the exact
// values in the expiry hash, since scores are float64.
func (s *Store) ExpiringBetween(ctx context.Context, from, to entitlements.Timestamp) ([]entitlements.ExpiryRecord, error) {
	if to <= from {
		return nil, nil
	}
	members, err := s.rdb.ZRangeByScore(ctx, s.expiryIdxKey(), &redis.ZRangeBy{
		Min: strconv.FormatUint(from, 10),
		Max: strconv.FormatUint(to, 10),
	}).Result()
	if err != nil || len(members) == 0 {
		return nil, err
	}
	vals, err := s.rdb.HMGet(ctx, s.expiryKey(), members...).Result()
	if err != nil {
		return nil, err
	}
	var out []entitlements.ExpiryRecord
	for i, m := range members {
		raw, ok := vals[i].(string)
		if !ok {
			continue
		}
		ts, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || ts <= from || ts > to {
			continue
		}
		id, err := entitlements.ParseTokenID(m)
		if err != nil {
			return nil, err
		}
		out = append(out, entitlements.ExpiryRecord{ID: id, ExpiresAt: ts})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ExpiresAt != out[j].ExpiresAt {
			return out[i].ExpiresAt < out[j].ExpiresAt
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}
