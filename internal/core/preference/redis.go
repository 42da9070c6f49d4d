package preference

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"woolies-preferences/internal/pkg/common"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// 計數與時間戳在伺服器端一次完成
var recordUsageScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
redis.call('HINCRBY', KEYS[1], 'use_count', 1)
redis.call('HSET', KEYS[1], 'last_used_at', ARGV[1])
return 1
`)

// 寫入主要商品，並從備選清單移除同一代碼；新建時加入使用者索引
var upsertPrimaryScript = redis.NewScript(`
local created = redis.call('EXISTS', KEYS[1]) == 0
local kept = {}
if not created then
	local raw = redis.call('HGET', KEYS[1], 'fallbacks') or ''
	for code in string.gmatch(raw, '[^,]+') do
		if code ~= ARGV[3] then
			table.insert(kept, code)
		end
	end
end
redis.call('HSET', KEYS[1],
	'original_name', ARGV[2],
	'primary', ARGV[3],
	'fallbacks', table.concat(kept, ','),
	'product_name', ARGV[4],
	'price', ARGV[5],
	'image_url', ARGV[6])
if created then
	redis.call('HSET', KEYS[1], 'use_count', '0', 'added_at', ARGV[7])
	redis.call('ZADD', KEYS[2], ARGV[8], ARGV[1])
end
return redis.call('HGETALL', KEYS[1])
`)

// 整份取代備選清單；0 表示不存在，-1 表示清單含主要商品
var setFallbacksScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
local primary = redis.call('HGET', KEYS[1], 'primary')
for i = 2, #ARGV do
	if ARGV[i] == primary then
		return -1
	end
end
redis.call('HSET', KEYS[1], 'fallbacks', ARGV[1])
return redis.call('HGETALL', KEYS[1])
`)

// 附加一個備選；已是主要商品或已存在時不變
var appendFallbackScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
	return 0
end
local primary = redis.call('HGET', KEYS[1], 'primary')
local raw = redis.call('HGET', KEYS[1], 'fallbacks') or ''
if ARGV[1] ~= primary then
	local found = false
	for code in string.gmatch(raw, '[^,]+') do
		if code == ARGV[1] then
			found = true
			break
		end
	end
	if not found then
		if raw == '' then
			raw = ARGV[1]
		else
			raw = raw .. ',' .. ARGV[1]
		end
		redis.call('HSET', KEYS[1], 'fallbacks', raw)
	end
end
return redis.call('HGETALL', KEYS[1])
`)

// RedisStore 每筆偏好一個 hash，另以 sorted set 依 added_at 建立使用者索引；
// 讀改寫一律在 Lua 腳本內完成，與 RecordUsage 不互相衝突
type RedisStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// OpenRedisStore 連線並測試 Redis
func OpenRedisStore(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// 測試連接
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: failed to connect to Redis: %w", ErrStoreUnavailable, err)
	}

	return NewRedisStore(client, prefix), nil
}

// NewRedisStore 使用既有的 client
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "woolies"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *RedisStore) recordKey(userID, key string) string {
	return fmt.Sprintf("%s:pref:%s:%s", s.prefix, userID, key)
}

func (s *RedisStore) indexKey(userID string) string {
	return fmt.Sprintf("%s:prefidx:%s", s.prefix, userID)
}

func (s *RedisStore) Get(ctx context.Context, userID, key string) (*Record, error) {
	fields, err := s.client.HGetAll(ctx, s.recordKey(userID, key)).Result()
	if err != nil {
		return nil, s.mapError(err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeHash(userID, key, fields)
}

func (s *RedisStore) UpsertPrimary(ctx context.Context, userID, key string, p Primary) (*Record, error) {
	if err := validatePrimary(p); err != nil {
		return nil, err
	}

	now := s.now()
	reply, err := upsertPrimaryScript.Run(ctx, s.client,
		[]string{s.recordKey(userID, key), s.indexKey(userID)},
		key,
		p.OriginalName,
		strconv.FormatInt(p.Stockcode, 10),
		p.ProductName,
		strconv.FormatFloat(p.Price, 'f', -1, 64),
		p.ImageURL,
		now.Format(time.RFC3339Nano),
		strconv.FormatInt(now.UnixMicro(), 10),
	).Result()
	if err != nil {
		return nil, s.mapError(err)
	}
	return s.decodeReply(userID, key, reply)
}

func (s *RedisStore) SetFallbacks(ctx context.Context, userID, key string, codes []int64) (*Record, error) {
	// 非正數與重複先在本地檢查，是否等於主要商品由腳本判斷
	if err := ValidateFallbacks(0, codes); err != nil {
		return nil, err
	}

	args := make([]interface{}, 0, 1+len(codes))
	args = append(args, encodeCodes(codes))
	for _, code := range codes {
		args = append(args, strconv.FormatInt(code, 10))
	}
	reply, err := setFallbacksScript.Run(ctx, s.client, []string{s.recordKey(userID, key)}, args...).Result()
	if err != nil {
		return nil, s.mapError(err)
	}
	if n, ok := reply.(int64); ok && n < 0 {
		return nil, fmt.Errorf("%w: fallback list contains the primary stockcode", ErrInvalidFallbackList)
	}
	return s.decodeReply(userID, key, reply)
}

func (s *RedisStore) AppendFallback(ctx context.Context, userID, key string, code int64) (*Record, error) {
	if err := ValidateFallbacks(0, []int64{code}); err != nil {
		return nil, err
	}
	reply, err := appendFallbackScript.Run(ctx, s.client,
		[]string{s.recordKey(userID, key)},
		strconv.FormatInt(code, 10),
	).Result()
	if err != nil {
		return nil, s.mapError(err)
	}
	return s.decodeReply(userID, key, reply)
}

// decodeReply 解析腳本回傳：整數 0 表示不存在，否則為 HGETALL 的欄位陣列
func (s *RedisStore) decodeReply(userID, key string, reply interface{}) (*Record, error) {
	switch v := reply.(type) {
	case int64:
		return nil, ErrNotFound
	case []interface{}:
		if len(v)%2 != 0 {
			return nil, fmt.Errorf("%w: malformed script reply for %s", ErrStoreUnavailable, key)
		}
		fields := make(map[string]string, len(v)/2)
		for i := 0; i < len(v); i += 2 {
			name, _ := v[i].(string)
			value, _ := v[i+1].(string)
			fields[name] = value
		}
		return decodeHash(userID, key, fields)
	default:
		return nil, fmt.Errorf("%w: unexpected script reply %T for %s", ErrStoreUnavailable, reply, key)
	}
}

func (s *RedisStore) RecordUsage(ctx context.Context, userID, key string) error {
	n, err := recordUsageScript.Run(ctx, s.client,
		[]string{s.recordKey(userID, key)},
		s.now().Format(time.RFC3339Nano),
	).Int64()
	if err != nil {
		return s.mapError(err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *RedisStore) Remove(ctx context.Context, userID, key string) (bool, error) {
	var del *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, s.recordKey(userID, key))
		pipe.ZRem(ctx, s.indexKey(userID), key)
		return nil
	})
	if err != nil {
		return false, s.mapError(err)
	}
	return del.Val() > 0, nil
}

func (s *RedisStore) ListAll(ctx context.Context, userID string) ([]Record, error) {
	keys, err := s.client.ZRange(ctx, s.indexKey(userID), 0, -1).Result()
	if err != nil {
		return nil, s.mapError(err)
	}
	if len(keys) == 0 {
		return []Record{}, nil
	}

	cmds := make([]*redis.StringStringMapCmd, len(keys))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HGetAll(ctx, s.recordKey(userID, key))
		}
		return nil
	})
	if err != nil {
		return nil, s.mapError(err)
	}

	records := make([]Record, 0, len(keys))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeHash(userID, keys[i], fields)
		if err != nil {
			common.LogWarn("Skipping unreadable preference",
				zap.String("user_id", userID),
				zap.String("key", keys[i]),
				zap.Error(err),
			)
			continue
		}
		records = append(records, *rec)
	}
	sortRecords(records)
	return records, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidFallbackList), errors.Is(err, ErrStoreUnavailable):
		return err
	default:
		common.LogWarn("Preference store command failed", zap.Error(err))
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
}

// encodeCodes 備選清單以逗號分隔存放，腳本可直接比對
func encodeCodes(codes []int64) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = strconv.FormatInt(c, 10)
	}
	return strings.Join(parts, ",")
}

// decodeHash 將 hash 欄位轉回 Record
func decodeHash(userID, key string, fields map[string]string) (*Record, error) {
	rec := &Record{
		UserID:       userID,
		Key:          key,
		OriginalName: fields["original_name"],
		ProductName:  fields["product_name"],
		ImageURL:     fields["image_url"],
	}

	var err error
	if rec.PrimaryStockcode, err = strconv.ParseInt(fields["primary"], 10, 64); err != nil {
		return nil, fmt.Errorf("corrupt preference %q: primary: %w", key, err)
	}
	rec.FallbackStockcodes = []int64{}
	if raw := fields["fallbacks"]; raw != "" {
		for _, part := range strings.Split(raw, ",") {
			code, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("corrupt preference %q: fallbacks: %w", key, err)
			}
			rec.FallbackStockcodes = append(rec.FallbackStockcodes, code)
		}
	}
	if raw := fields["price"]; raw != "" {
		if rec.LastKnownPrice, err = strconv.ParseFloat(raw, 64); err != nil {
			return nil, fmt.Errorf("corrupt preference %q: price: %w", key, err)
		}
	}
	if raw := fields["use_count"]; raw != "" {
		if rec.UseCount, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("corrupt preference %q: use_count: %w", key, err)
		}
	}
	if rec.AddedAt, err = time.Parse(time.RFC3339Nano, fields["added_at"]); err != nil {
		return nil, fmt.Errorf("corrupt preference %q: added_at: %w", key, err)
	}
	if raw := fields["last_used_at"]; raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("corrupt preference %q: last_used_at: %w", key, err)
		}
		rec.LastUsedAt = &t
	}
	return rec, nil
}
