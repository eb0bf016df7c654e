package payout

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"payout-engine/pkg/errutil"
	"payout-engine/pkg/money"
	"payout-engine/pkg/processor"
	"payout-engine/pkg/rediskey"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ReservationStore tracks funds promised to in-flight transfers. Reserve must
// be atomic: it succeeds only if reserved + cents <= available.
type ReservationStore interface {
	Reserve(ctx context.Context, currency, id string, cents, availableCents int64) (bool, error)
	Release(ctx context.Context, currency, id string) error
}

// Reconciler checks processor balance before a transfer is attempted.
type Reconciler struct {
	processor processor.Processor
	store     ReservationStore
	currency  string
}

func NewReconciler(p processor.Processor, store ReservationStore, currency string) *Reconciler {
	return &Reconciler{processor: p, store: store, currency: strings.ToLower(currency)}
}

type Reservation struct {
	ID     string
	Amount decimal.Decimal

	release func(context.Context) error
	once    sync.Once
}

// Release frees the reserved amount. Safe to call more than once.
func (r *Reservation) Release(ctx context.Context) {
	if r == nil {
		return
	}
	r.once.Do(func() {
		if err := r.release(ctx); err != nil {
			zap.L().Warn("failed to release reservation", zap.String("reservation_id", r.ID), zap.Error(err))
		}
	})
}

// EnsureFundsAvailable reserves amount against the processor's available
// balance minus what other in-flight payouts already hold.
func (r *Reconciler) EnsureFundsAvailable(ctx context.Context, id string, amount decimal.Decimal) (*Reservation, error) {
	balance, err := r.processor.RetrieveBalance(ctx, r.currency)
	if err != nil {
		zap.L().Error("failed to read processor balance", zap.Error(err))
		return nil, errutil.BadGateway("could not read platform balance", err)
	}

	cents := money.ToCents(amount)
	ok, err := r.store.Reserve(ctx, r.currency, id, cents, money.ToCents(balance.Available))
	if err != nil {
		return nil, err
	}
	if !ok {
		zap.L().Warn("platform balance insufficient for payout",
			zap.String("reservation_id", id),
			zap.String("amount", amount.String()),
			zap.String("available", balance.Available.String()),
		)
		return nil, errutil.UnprocessableEntity(
			fmt.Sprintf("platform balance %s does not cover %s", balance.Available, amount),
			ErrInsufficientPlatformBalance,
		)
	}

	return &Reservation{
		ID:     id,
		Amount: amount,
		release: func(ctx context.Context) error {
			return r.store.Release(ctx, r.currency, id)
		},
	}, nil
}

type MemoryReservations struct {
	mu       sync.Mutex
	reserved map[string]map[string]int64
}

func NewMemoryReservations() *MemoryReservations {
	return &MemoryReservations{reserved: make(map[string]map[string]int64)}
}

func (m *MemoryReservations) Reserve(_ context.Context, currency, id string, cents, availableCents int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	held := m.reserved[currency]
	if held == nil {
		held = make(map[string]int64)
		m.reserved[currency] = held
	}

	var total int64
	for _, c := range held {
		total += c
	}
	if total+cents > availableCents {
		return false, nil
	}
	held[id] = cents
	return true, nil
}

func (m *MemoryReservations) Release(_ context.Context, currency, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reserved[currency], id)
	return nil
}

// Reserved returns the total cents held for currency.
func (m *MemoryReservations) Reserved(currency string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, c := range m.reserved[currency] {
		total += c
	}
	return total
}

var reserveScript = redis.NewScript(`
local total = 0
for _, v in ipairs(redis.call("HVALS", KEYS[1])) do
	total = total + tonumber(v)
end
if total + tonumber(ARGV[2]) > tonumber(ARGV[3]) then
	return 0
end
redis.call("HSET", KEYS[1], ARGV[1], ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return 1
`)

// RedisReservations shares reservations between instances. The hash expires
// after ttl of inactivity so a crashed instance cannot hold funds forever.
type RedisReservations struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisReservations(client *redis.Client, ttl time.Duration) *RedisReservations {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisReservations{client: client, ttl: ttl}
}

func (r *RedisReservations) Reserve(ctx context.Context, currency, id string, cents, availableCents int64) (bool, error) {
	res, err := reserveScript.Run(ctx, r.client,
		[]string{rediskey.BuildReservationKey(currency)},
		id, cents, availableCents, r.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (r *RedisReservations) Release(ctx context.Context, currency, id string) error {
	return r.client.HDel(ctx, rediskey.BuildReservationKey(currency), id).Err()
}
