package variable

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultRedisMaxStale bounds how old the in-memory Redis snapshot may get
// before the next read reloads it.
const defaultRedisMaxStale = 5 * time.Second

// RedisProvider stores variable configurations in a Redis hash (one field
// per variable, the value its JSON configuration) so multiple processes
// share one mutable configuration store. Reads are served from an in-memory
// snapshot reloaded when it goes stale or after a local mutation; mutations
// write through to Redis.
type RedisProvider struct {
	client   redis.UniversalClient
	key      string
	maxStale time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	snapshot *VariablesConfig
	loadedAt time.Time

	callbacks callbackList
	closed    bool
}

// RedisOption configures a RedisProvider.
type RedisOption func(*RedisProvider)

// WithRedisKey overrides the hash key holding the configurations.
func WithRedisKey(key string) RedisOption {
	return func(p *RedisProvider) {
		if key != "" {
			p.key = key
		}
	}
}

// WithRedisMaxStale sets how long the in-memory snapshot is trusted before a
// read reloads it from Redis.
func WithRedisMaxStale(d time.Duration) RedisOption {
	return func(p *RedisProvider) {
		if d > 0 {
			p.maxStale = d
		}
	}
}

// WithRedisLogger sets the logger used for reload warnings.
func WithRedisLogger(log *slog.Logger) RedisOption {
	return func(p *RedisProvider) {
		if log != nil {
			p.log = log
		}
	}
}

// NewRedisProvider creates a provider on an existing Redis client. The
// client is owned by the caller and is not closed by Close.
func NewRedisProvider(client redis.UniversalClient, opts ...RedisOption) (*RedisProvider, error) {
	if client == nil {
		return nil, errors.Join(ErrInvalidConfig, errors.New("redis client is nil"))
	}
	p := &RedisProvider{
		client:   client,
		key:      "varkit:variables",
		maxStale: defaultRedisMaxStale,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.callbacks.log = p.log
	return p, nil
}

// load rebuilds the snapshot from Redis. Called with p.mu held.
func (p *RedisProvider) load(ctx context.Context) error {
	fields, err := p.client.HGetAll(ctx, p.key).Result()
	if err != nil {
		return errors.Join(ErrFetchFailed, err)
	}

	cfg := &VariablesConfig{Variables: make(map[string]*VariableConfig, len(fields))}
	for name, raw := range fields {
		vc := &VariableConfig{}
		if err := json.Unmarshal([]byte(raw), vc); err != nil {
			return errors.Join(ErrInvalidPayload, err)
		}
		cfg.Variables[name] = vc
	}
	if err := cfg.Validate(); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}

	p.snapshot = cfg
	p.loadedAt = time.Now()
	return nil
}

// current returns a fresh-enough snapshot, reloading when stale. On a reload
// failure with a previous snapshot available, the stale snapshot is served:
// availability over freshness.
func (p *RedisProvider) current(ctx context.Context) (*VariablesConfig, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.snapshot != nil && time.Since(p.loadedAt) < p.maxStale {
		return p.snapshot, nil
	}
	if err := p.load(ctx); err != nil {
		if p.snapshot != nil {
			p.log.Warn("redis variables reload failed, serving stale snapshot",
				slog.String("error", err.Error()))
			return p.snapshot, nil
		}
		return nil, err
	}
	return p.snapshot, nil
}

// GetSerializedValue resolves one variable from the shared store.
func (p *RedisProvider) GetSerializedValue(ctx context.Context, name string, opts ...ResolveOption) Resolution {
	o := newResolveOptions(opts)
	snap, err := p.current(ctx)
	if err != nil {
		return Resolution{Name: name, Reason: ReasonMissingConfig, Err: err}
	}
	return snap.ResolveSerializedValue(name, o.targetingKey, o.attributes)
}

// Refresh reloads the snapshot from Redis. A non-forced refresh is satisfied
// by a fresh-enough snapshot.
func (p *RedisProvider) Refresh(ctx context.Context, force bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !force && p.snapshot != nil && time.Since(p.loadedAt) < p.maxStale {
		return nil
	}
	return p.load(ctx)
}

// Close marks the provider closed. The Redis client belongs to the caller
// and stays open.
func (p *RedisProvider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

// GetVariableConfig returns one variable's configuration, by canonical name
// or alias.
func (p *RedisProvider) GetVariableConfig(ctx context.Context, name string) (*VariableConfig, error) {
	snap, err := p.current(ctx)
	if err != nil {
		return nil, err
	}
	vc, ok := snap.Get(name)
	if !ok {
		return nil, ErrVariableNotFound
	}
	return vc.Clone(), nil
}

// GetAllVariablesConfig returns a copy of the shared configuration.
func (p *RedisProvider) GetAllVariablesConfig(ctx context.Context) (*VariablesConfig, error) {
	snap, err := p.current(ctx)
	if err != nil {
		return nil, err
	}
	out := &VariablesConfig{Variables: make(map[string]*VariableConfig, len(snap.Variables))}
	for name, vc := range snap.Variables {
		out.Variables[name] = vc.Clone()
	}
	return out, nil
}

// CreateVariable adds a variable to the shared store. HSETNX makes the
// existence check and the write one atomic step, so two processes cannot
// both create the same name.
func (p *RedisProvider) CreateVariable(ctx context.Context, cfg *VariableConfig) error {
	data, err := p.encode(cfg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrProviderClosed
	}

	created, err := p.client.HSetNX(ctx, p.key, cfg.Name, data).Result()
	if err != nil {
		return err
	}
	if !created {
		return ErrVariableAlreadyExists
	}
	p.invalidateLocked()
	return nil
}

// UpdateVariable replaces an existing variable in the shared store.
func (p *RedisProvider) UpdateVariable(ctx context.Context, cfg *VariableConfig) error {
	data, err := p.encode(cfg)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrProviderClosed
	}

	exists, err := p.client.HExists(ctx, p.key, cfg.Name).Result()
	if err != nil {
		return err
	}
	if !exists {
		return ErrVariableNotFound
	}
	if err := p.client.HSet(ctx, p.key, cfg.Name, data).Err(); err != nil {
		return err
	}
	p.invalidateLocked()
	return nil
}

// DeleteVariable removes a variable from the shared store.
func (p *RedisProvider) DeleteVariable(ctx context.Context, name string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrProviderClosed
	}

	removed, err := p.client.HDel(ctx, p.key, name).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrVariableNotFound
	}
	p.invalidateLocked()
	return nil
}

// BatchUpdate applies all changes in one pipelined round trip. A nil
// configuration deletes the variable.
func (p *RedisProvider) BatchUpdate(ctx context.Context, changes map[string]*VariableConfig) error {
	pipe := p.client.TxPipeline()
	for name, cfg := range changes {
		if cfg == nil {
			pipe.HDel(ctx, p.key, name)
			continue
		}
		data, err := p.encode(cfg)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, p.key, name, data)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrProviderClosed
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	p.invalidateLocked()
	return nil
}

// OnChange registers a callback fired after every local mutation.
func (p *RedisProvider) OnChange(cb func()) {
	p.callbacks.add(cb)
}

func (p *RedisProvider) encode(cfg *VariableConfig) (string, error) {
	if cfg == nil {
		return "", errors.Join(ErrInvalidConfig, errors.New("configuration is nil"))
	}
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", errors.Join(ErrInvalidConfig, err)
	}
	return string(data), nil
}

// invalidateLocked expires the snapshot and fires change callbacks. Called
// with p.mu held; callbacks run asynchronously to stay out of the lock.
func (p *RedisProvider) invalidateLocked() {
	p.loadedAt = time.Time{}
	go p.callbacks.fire()
}
