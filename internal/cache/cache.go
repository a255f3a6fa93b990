// Package cache は日付単位の予約一覧の読み取りキャッシュを提供する。
// 重複判定は常にロック内でDBを読むため、キャッシュは一覧表示にのみ使う。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/nmrsched/internal/model"
)

// KeyPrefix はRedisキーの接頭辞。
const KeyPrefix = "nmrsched:reservations:"

// Lookup はGetの結果。
// Versionはその時点の日付ごとの世代で、ミス時はDBから読んだ一覧と一緒にSetへ渡す。
type Lookup struct {
	List    []*model.Reservation
	Hit     bool
	Version int64
}

// ReservationCache は日付ごとの予約一覧キャッシュのインターフェース。
// Invalidateは世代を進めるため、それより前に読んだ世代でSetした一覧は以後ヒットしない。
type ReservationCache interface {
	// Get はキャッシュ済みの一覧と現在の世代を返す。
	Get(ctx context.Context, date string) (Lookup, error)
	// Set は指定世代の一覧としてキャッシュする。
	Set(ctx context.Context, date string, version int64, list []*model.Reservation) error
	// Invalidate は指定日の世代を進め、キャッシュを破棄する。
	Invalidate(ctx context.Context, date string) error
}

// NewRedisClient はREDIS_URL形式のURLからクライアントを生成し、疎通を確認する。
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return client, nil
}

// minVersionTTL は世代キーの最短保持期間。一覧のTTLより長く残す必要がある。
const minVersionTTL = 24 * time.Hour

// RedisCache はRedisを使ったReservationCache。
// 一覧は世代番号と一緒にJSONで保存し、世代キーと一致するものだけをヒットとする。
type RedisCache struct {
	client     redis.Cmdable
	ttl        time.Duration
	versionTTL time.Duration
}

// NewRedisCache はRedisCacheを生成する。
func NewRedisCache(client redis.Cmdable, ttl time.Duration) *RedisCache {
	versionTTL := minVersionTTL
	if 2*ttl > versionTTL {
		versionTTL = 2 * ttl
	}
	return &RedisCache{client: client, ttl: ttl, versionTTL: versionTTL}
}

func listKey(date string) string {
	return KeyPrefix + date
}

func versionKey(date string) string {
	return KeyPrefix + date + ":version"
}

type entry struct {
	Version int64                `json:"version"`
	List    []*model.Reservation `json:"list"`
}

// Get は世代キーと一覧を一度に読み、世代が一致する場合のみヒットとする。
func (c *RedisCache) Get(ctx context.Context, date string) (Lookup, error) {
	vals, err := c.client.MGet(ctx, versionKey(date), listKey(date)).Result()
	if err != nil {
		return Lookup{}, fmt.Errorf("redis mget: %w", err)
	}
	if len(vals) != 2 {
		return Lookup{}, fmt.Errorf("redis mget: unexpected %d values", len(vals))
	}

	var version int64
	if v, ok := vals[0].(string); ok {
		version, err = strconv.ParseInt(v, 10, 64)
		if err != nil {
			return Lookup{}, fmt.Errorf("decode cache version: %w", err)
		}
	}

	raw, ok := vals[1].(string)
	if !ok {
		return Lookup{Version: version}, nil
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return Lookup{}, fmt.Errorf("decode cached reservations: %w", err)
	}
	if e.Version != version {
		// 破棄より前に読まれた一覧
		return Lookup{Version: version}, nil
	}
	return Lookup{List: e.List, Hit: true, Version: version}, nil
}

// Set は一覧を世代番号付きでTTLを付けて保存する。
func (c *RedisCache) Set(ctx context.Context, date string, version int64, list []*model.Reservation) error {
	if list == nil {
		list = []*model.Reservation{}
	}
	b, err := json.Marshal(entry{Version: version, List: list})
	if err != nil {
		return fmt.Errorf("encode reservations: %w", err)
	}
	if err := c.client.Set(ctx, listKey(date), b, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate は世代を進めてから一覧を削除する。
func (c *RedisCache) Invalidate(ctx context.Context, date string) error {
	if err := c.client.Incr(ctx, versionKey(date)).Err(); err != nil {
		return fmt.Errorf("redis incr: %w", err)
	}
	if err := c.client.Expire(ctx, versionKey(date), c.versionTTL).Err(); err != nil {
		return fmt.Errorf("redis expire: %w", err)
	}
	if err := c.client.Del(ctx, listKey(date)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Noop はキャッシュを行わないReservationCache。Redis未設定時に使う。
type Noop struct{}

func (Noop) Get(context.Context, string) (Lookup, error)                    { return Lookup{}, nil }
func (Noop) Set(context.Context, string, int64, []*model.Reservation) error { return nil }
func (Noop) Invalidate(context.Context, string) error                       { return nil }

// compile-time interface check
var (
	_ ReservationCache = (*RedisCache)(nil)
	_ ReservationCache = Noop{}
)
