package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"rollcall/internal/attendance/models"
	id "rollcall/pkg/domain"
	"rollcall/pkg/platform/sentinel"
)

const (
	slotKeyPrefix       = "rollcall:attendance:slot:"
	recordKeyPrefix     = "rollcall:attendance:record:"
	holderIndexPrefix   = "rollcall:attendance:holder:"
	subjectIndexPrefix  = "rollcall:attendance:subject:"
	subjectDayIdxPrefix = "rollcall:attendance:subject_day:"
	dayIndexPrefix      = "rollcall:attendance:day:"
)

// commitScript claims the (holder, subject, day) slot and writes the record
// with its indexes in one step. Returns {1, id} on insert, {0, existing id}
// when the slot is taken and {-1, ""} when the record id already exists.
//
// KEYS: slot, record, holder index, subject index, subject-day index, day index.
// ARGV: record id, record json, redeemed-at score.
var commitScript = redis.NewScript(`
local existing = redis.call('GET', KEYS[1])
if existing then
	return {0, existing}
end
if redis.call('EXISTS', KEYS[2]) == 1 then
	return {-1, ''}
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('SET', KEYS[2], ARGV[2])
redis.call('ZADD', KEYS[3], ARGV[3], ARGV[1])
redis.call('ZADD', KEYS[4], ARGV[3], ARGV[1])
redis.call('ZADD', KEYS[5], ARGV[3], ARGV[1])
redis.call('SADD', KEYS[6], ARGV[1])
return {1, ARGV[1]}
`)

// RedisStore is a ledger for multi-instance deployments without Postgres.
// Records never expire; they are immutable once committed.
type RedisStore struct {
	client *redis.Client
}

func NewRedis(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

type redisRecord struct {
	ID                 string    `json:"id"`
	HolderID           string    `json:"holder_id"`
	IssuerID           string    `json:"issuer_id"`
	Subject            string    `json:"subject"`
	Day                string    `json:"day"`
	RedeemedAt         time.Time `json:"redeemed_at"`
	Latitude           float64   `json:"lat"`
	Longitude          float64   `json:"lon"`
	Method             string    `json:"method"`
	BiometricConfirmed bool      `json:"biometric_confirmed"`
	TokenID            string    `json:"token_id,omitempty"`
}

func (s *RedisStore) TryCommit(ctx context.Context, record *models.Record) (*models.Record, error) {
	body, err := json.Marshal(toRedisRecord(record))
	if err != nil {
		return nil, fmt.Errorf("encode attendance record: %w", err)
	}

	keys := []string{
		slotKeyPrefix + record.Key().String(),
		recordKeyPrefix + record.ID.String(),
		holderIndexPrefix + record.HolderID.String(),
		subjectIndexPrefix + record.Subject,
		subjectDayIdxPrefix + record.Subject + "|" + string(record.Day),
		dayIndexPrefix + string(record.Day),
	}
	res, err := commitScript.Run(ctx, s.client, keys,
		record.ID.String(), body, record.RedeemedAt.UnixMicro()).Slice()
	if err != nil {
		return nil, fmt.Errorf("commit attendance record: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("commit attendance record: unexpected reply %v", res)
	}

	status, _ := res[0].(int64)
	switch status {
	case 1:
		committed := *record
		return &committed, nil
	case -1:
		return nil, sentinel.ErrConflict
	default:
		existingID, _ := res[1].(string)
		existing, err := s.get(ctx, existingID)
		if err != nil {
			return nil, err
		}
		return nil, alreadyRedeemed(existing)
	}
}

func (s *RedisStore) get(ctx context.Context, recordID string) (*models.Record, error) {
	raw, err := s.client.Get(ctx, recordKeyPrefix+recordID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("attendance record %s missing: %w", recordID, sentinel.ErrInvalidState)
	}
	if err != nil {
		return nil, fmt.Errorf("get attendance record: %w", err)
	}
	return decodeRecord(raw)
}

func (s *RedisStore) ListByHolder(ctx context.Context, holder id.UserID) ([]*models.Record, error) {
	ids, err := s.client.ZRevRange(ctx, holderIndexPrefix+holder.String(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list records by holder: %w", err)
	}
	return s.load(ctx, ids)
}

func (s *RedisStore) ListBySubjectAndDay(ctx context.Context, subject string, day models.Day, issuer *id.UserID) ([]*models.Record, error) {
	index := subjectIndexPrefix + subject
	if day != "" {
		index = subjectDayIdxPrefix + subject + "|" + string(day)
	}
	ids, err := s.client.ZRange(ctx, index, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list records by subject: %w", err)
	}
	records, err := s.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	if issuer == nil {
		return records, nil
	}
	filtered := records[:0]
	for _, r := range records {
		if r.IssuerID == *issuer {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

func (s *RedisStore) StatsForDay(ctx context.Context, day models.Day) (models.DayStats, error) {
	ids, err := s.client.SMembers(ctx, dayIndexPrefix+string(day)).Result()
	if err != nil {
		return models.DayStats{}, fmt.Errorf("attendance stats: %w", err)
	}
	records, err := s.load(ctx, ids)
	if err != nil {
		return models.DayStats{}, err
	}
	stats := models.DayStats{Day: day, BySubject: make(map[string]int)}
	for _, r := range records {
		stats.Total++
		stats.BySubject[r.Subject]++
	}
	return stats, nil
}

// load fetches records by id with one MGET, preserving order.
func (s *RedisStore) load(ctx context.Context, ids []string) ([]*models.Record, error) {
	if len(ids) == 0 {
		return []*models.Record{}, nil
	}
	keys := make([]string, len(ids))
	for i, rid := range ids {
		keys[i] = recordKeyPrefix + rid
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load attendance records: %w", err)
	}
	out := make([]*models.Record, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		r, err := decodeRecord([]byte(raw))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func toRedisRecord(r *models.Record) redisRecord {
	rr := redisRecord{
		ID:                 r.ID.String(),
		HolderID:           r.HolderID.String(),
		IssuerID:           r.IssuerID.String(),
		Subject:            r.Subject,
		Day:                string(r.Day),
		RedeemedAt:         r.RedeemedAt.UTC(),
		Latitude:           r.Latitude,
		Longitude:          r.Longitude,
		Method:             string(r.Method),
		BiometricConfirmed: r.BiometricConfirmed,
	}
	if r.TokenID != nil {
		rr.TokenID = r.TokenID.String()
	}
	return rr
}

func decodeRecord(raw []byte) (*models.Record, error) {
	var rr redisRecord
	if err := json.Unmarshal(raw, &rr); err != nil {
		return nil, fmt.Errorf("decode attendance record: %w", err)
	}
	recordID, err := id.ParseRecordID(rr.ID)
	if err != nil {
		return nil, fmt.Errorf("decode attendance record id: %w", err)
	}
	holder, err := id.ParseUserID(rr.HolderID)
	if err != nil {
		return nil, fmt.Errorf("decode holder id: %w", err)
	}
	issuer, err := id.ParseUserID(rr.IssuerID)
	if err != nil {
		return nil, fmt.Errorf("decode issuer id: %w", err)
	}
	r := &models.Record{
		ID:                 recordID,
		HolderID:           holder,
		IssuerID:           issuer,
		Subject:            rr.Subject,
		Day:                models.Day(rr.Day),
		RedeemedAt:         rr.RedeemedAt,
		Latitude:           rr.Latitude,
		Longitude:          rr.Longitude,
		Method:             models.VerificationMethod(rr.Method),
		BiometricConfirmed: rr.BiometricConfirmed,
	}
	if rr.TokenID != "" {
		tokenID, err := id.ParseTokenID(rr.TokenID)
		if err != nil {
			return nil, fmt.Errorf("decode token id: %w", err)
		}
		r.TokenID = &tokenID
	}
	return r, nil
}
