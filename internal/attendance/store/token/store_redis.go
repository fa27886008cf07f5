package token

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"rollcall/internal/attendance/models"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
)

const (
	tokenKeyPrefix = "rollcall:token:"
	expiryIndexKey = "rollcall:tokens:by_expiry"

	// defaultKeyGrace keeps token hashes around after expiry so late
	// redemptions report token_expired instead of invalid_token.
	defaultKeyGrace = 24 * time.Hour
)

// createScript inserts a token hash only if the key is absent and indexes its expiry.
// KEYS[1]=token key, KEYS[2]=expiry index; ARGV: id, field values..., expire-at ms, score.
var createScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1],
	'id', ARGV[1], 'issuer_id', ARGV[2], 'subject', ARGV[3],
	'origin_lat', ARGV[4], 'origin_lon', ARGV[5], 'radius_m', ARGV[6],
	'issued_at', ARGV[7], 'expires_at', ARGV[8], 'active', ARGV[9])
redis.call('PEXPIREAT', KEYS[1], ARGV[10])
redis.call('ZADD', KEYS[2], ARGV[11], ARGV[1])
return 1
`)

// deactivateScript flips active to 0 on an existing token.
var deactivateScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HSET', KEYS[1], 'active', '0')
return 1
`)

// expireScript marks every indexed token with expiry score <= ARGV[2] inactive.
var expireScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local n = 0
for _, tid in ipairs(ids) do
	local key = ARGV[1] .. tid
	if redis.call('HGET', key, 'active') == '1' then
		redis.call('HSET', key, 'active', '0')
		n = n + 1
	end
end
return n
`)

// RedisStore keeps tokens as Redis hashes with native key expiry and a
// sorted-set index on expires_at.
type RedisStore struct {
	client   *redis.Client
	keyGrace time.Duration
}

type RedisOption func(*RedisStore)

// WithKeyGrace sets how long a token key outlives its expiry.
func WithKeyGrace(d time.Duration) RedisOption {
	return func(s *RedisStore) {
		if d > 0 {
			s.keyGrace = d
		}
	}
}

func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, keyGrace: defaultKeyGrace}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func tokenKey(tokenID id.TokenID) string {
	return tokenKeyPrefix + tokenID.String()
}

func (s *RedisStore) Create(ctx context.Context, token *models.Token) error {
	active := "0"
	if token.Active {
		active = "1"
	}
	res, err := createScript.Run(ctx, s.client,
		[]string{tokenKey(token.ID), expiryIndexKey},
		token.ID.String(),
		token.IssuerID.String(),
		token.Subject,
		formatFloat(token.OriginLat),
		formatFloat(token.OriginLon),
		formatFloat(token.RadiusMeters),
		token.IssuedAt.UnixNano(),
		token.ExpiresAt.UnixNano(),
		active,
		token.ExpiresAt.Add(s.keyGrace).UnixMilli(),
		expiryScore(token.ExpiresAt),
	).Int()
	if err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	if res == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *RedisStore) FindByID(ctx context.Context, tokenID id.TokenID) (*models.Token, error) {
	fields, err := s.client.HGetAll(ctx, tokenKey(tokenID)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("find token by id: %w", err)
	}
	if len(fields) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return parseTokenHash(fields)
}

func (s *RedisStore) Deactivate(ctx context.Context, tokenID id.TokenID) error {
	res, err := deactivateScript.Run(ctx, s.client, []string{tokenKey(tokenID)}).Int()
	if err != nil {
		return fmt.Errorf("deactivate token: %w", err)
	}
	if res == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}

// expiryScore rounds up to the next millisecond. Sweeps compare against the
// floor of now, so a token is never deactivated before its expiry instant.
func expiryScore(t time.Time) int64 {
	ms := t.UnixMilli()
	if t.After(time.UnixMilli(ms)) {
		ms++
	}
	return ms
}

func (s *RedisStore) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	n, err := expireScript.Run(ctx, s.client, []string{expiryIndexKey},
		tokenKeyPrefix, now.UnixMilli()).Int()
	if err != nil {
		return 0, fmt.Errorf("expire stale tokens: %w", err)
	}
	return n, nil
}

// DeleteExpired drops tokens that expired before the cutoff from both the
// hash keyspace and the expiry index.
func (s *RedisStore) DeleteExpired(ctx context.Context, before time.Time) (int, error) {
	upper := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	ids, err := s.client.ZRangeByScore(ctx, expiryIndexKey, &redis.ZRangeBy{Min: "-inf", Max: upper}).Result()
	if err != nil {
		return 0, fmt.Errorf("list expired tokens: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, tid := range ids {
		keys[i] = tokenKeyPrefix + tid
		members[i] = tid
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, expiryIndexKey, members...)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("delete expired tokens: %w", err)
	}
	return len(ids), nil
}

func parseTokenHash(f map[string]string) (*models.Token, error) {
	tokenID, err := id.ParseTokenID(f["id"])
	if err != nil {
		return nil, fmt.Errorf("parse token id: %w", err)
	}
	issuer, err := id.ParseUserID(f["issuer_id"])
	if err != nil {
		return nil, fmt.Errorf("parse issuer id: %w", err)
	}
	t := &models.Token{
		ID:       tokenID,
		IssuerID: issuer,
		Subject:  f["subject"],
		Active:   f["active"] == "1",
	}
	if t.OriginLat, err = strconv.ParseFloat(f["origin_lat"], 64); err != nil {
		return nil, fmt.Errorf("parse origin_lat: %w", err)
	}
	if t.OriginLon, err = strconv.ParseFloat(f["origin_lon"], 64); err != nil {
		return nil, fmt.Errorf("parse origin_lon: %w", err)
	}
	if t.RadiusMeters, err = strconv.ParseFloat(f["radius_m"], 64); err != nil {
		return nil, fmt.Errorf("parse radius_m: %w", err)
	}
	issuedAt, err := strconv.ParseInt(f["issued_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse issued_at: %w", err)
	}
	expiresAt, err := strconv.ParseInt(f["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	t.IssuedAt = time.Unix(0, issuedAt).UTC()
	t.ExpiresAt = time.Unix(0, expiresAt).UTC()
	return t, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}
