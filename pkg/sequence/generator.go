package sequence

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("sequence",
	fx.Provide(Provide),
)

const (
	PrefixPayout = "PO"
	PrefixRun    = "RUN"
)

// Generator issues short human-readable references such as
// PO-240601-00AK7, unique per prefix and day.
type Generator interface {
	Next(ctx context.Context, prefix string) (string, error)
}

type Params struct {
	fx.In

	Redis *redis.Client `optional:"true"`
}

func Provide(p Params) Generator {
	if p.Redis == nil {
		zap.L().Info("[Sequence] using in-process counters")
		return NewLocal()
	}
	return NewRedisGenerator(p.Redis)
}

type RedisGenerator struct {
	rdb *redis.Client
	now func() time.Time
}

func NewRedisGenerator(rdb *redis.Client) *RedisGenerator {
	return &RedisGenerator{rdb: rdb, now: time.Now}
}

func (g *RedisGenerator) Next(ctx context.Context, prefix string) (string, error) {
	now := g.now().UTC()
	today := now.Format("060102")
	key := fmt.Sprintf("seq:%s:%s", prefix, today)

	seq, err := g.rdb.Incr(ctx, key).Result()
	if err != nil {
		return "", err
	}

	if seq == 1 {
		// Keep the counter until the end of the day plus a margin for clock skew.
		expire := now.Truncate(24 * time.Hour).Add(25 * time.Hour).Sub(now)
		_ = g.rdb.Expire(ctx, key, expire).Err()
	}

	return format(prefix, today, seq)
}

// Local counts in process memory; references are only unique within one
// process and restart from one after a restart.
type Local struct {
	mu       sync.Mutex
	counters map[string]int64
	now      func() time.Time
}

func NewLocal() *Local {
	return &Local{counters: make(map[string]int64), now: time.Now}
}

func (l *Local) Next(_ context.Context, prefix string) (string, error) {
	today := l.now().UTC().Format("060102")
	key := prefix + ":" + today

	l.mu.Lock()
	l.counters[key]++
	seq := l.counters[key]
	l.mu.Unlock()

	return format(prefix, today, seq)
}

func format(prefix, day string, seq int64) (string, error) {
	encoded := strings.ToUpper(strconv.FormatInt(seq, 36))
	if len(encoded) < 3 {
		encoded = strings.Repeat("0", 3-len(encoded)) + encoded
	}

	suffix, err := randomAlphaNumeric(2)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf("%s-%s-%s%s", prefix, day, encoded, suffix), nil
}

func randomAlphaNumeric(n int) (string, error) {
	const chars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	b := make([]byte, n)
	for i := range b {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(chars))))
		if err != nil {
			return "", err
		}
		b[i] = chars[num.Int64()]
	}
	return string(b), nil
}
