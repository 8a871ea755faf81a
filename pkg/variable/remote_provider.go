package variable

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"
)

// RemoteProvider polls an HTTP endpoint for the variables configuration and
// serves resolutions from an immutable in-memory snapshot. The snapshot is
// replaced wholesale after every successful fetch and left untouched on any
// failure: availability over freshness. Mutations are forwarded to the same
// API the snapshot is fetched from.
type RemoteProvider struct {
	cfg    RemoteConfig
	client *http.Client
	log    *slog.Logger

	snapshot    atomic.Pointer[VariablesConfig]
	everFetched atomic.Bool

	fetchMu   sync.Mutex
	fetching  atomic.Bool
	lastFetch time.Time // guarded by fetchMu
	lastHash  uint64    // guarded by fetchMu

	callbacks callbackList

	wake      chan struct{}
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// RemoteOption configures a RemoteProvider.
type RemoteOption func(*RemoteProvider)

// WithRemoteHTTPClient sets a custom HTTP client, for proxies or testing.
func WithRemoteHTTPClient(client *http.Client) RemoteOption {
	return func(p *RemoteProvider) {
		if client != nil {
			p.client = client
		}
	}
}

// WithRemoteLogger sets the logger used for fetch warnings.
func WithRemoteLogger(log *slog.Logger) RemoteOption {
	return func(p *RemoteProvider) {
		if log != nil {
			p.log = log
		}
	}
}

// NewRemoteProvider validates the configuration and starts the background
// polling worker. The returned provider serves ReasonMissingConfig until the
// first successful fetch, unless BlockFirstResolve is set.
func NewRemoteProvider(cfg RemoteConfig, opts ...RemoteOption) (*RemoteProvider, error) {
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, errors.Join(ErrInvalidConfig, fmt.Errorf("base URL %q must be absolute http(s)", cfg.BaseURL))
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 10 * time.Second
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 5 * time.Second
	}

	p := &RemoteProvider{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log:     slog.Default(),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.callbacks.log = p.log

	go p.pollLoop()
	return p, nil
}

// pollLoop refreshes on the polling interval until Close. Fetch failures are
// logged and never stop the loop.
func (p *RemoteProvider) pollLoop() {
	defer close(p.stopped)
	for {
		if err := p.Refresh(context.Background(), false); err != nil && !errors.Is(err, ErrProviderClosed) {
			p.log.Warn("background variables refresh failed", slog.String("error", err.Error()))
		}
		select {
		case <-p.done:
			return
		case <-p.wake:
		case <-time.After(p.cfg.PollInterval):
		}
	}
}

// Refresh fetches the configuration. A non-forced call while another fetch
// is in flight never performs a second network call: it degrades to a
// freshness check once the lock is available. On success the snapshot is
// atomically replaced; on any failure the previous snapshot stays in place.
func (p *RemoteProvider) Refresh(ctx context.Context, force bool) error {
	if p.isClosed() {
		return ErrProviderClosed
	}

	// An in-flight fetch already serves a forced caller; do not fetch twice.
	if p.fetching.Load() {
		force = false
	}

	p.fetchMu.Lock()
	defer p.fetchMu.Unlock()

	if !force && time.Since(p.lastFetch) < p.cfg.PollInterval {
		return nil
	}

	p.fetching.Store(true)
	defer p.fetching.Store(false)
	return p.fetchLocked(ctx)
}

// fetchLocked performs the network fetch. Transient failures (network errors
// and 5xx responses) are retried with fibonacci backoff; payload validation
// failures are not.
func (p *RemoteProvider) fetchLocked(ctx context.Context) error {
	var body []byte
	var cfg *VariablesConfig

	backoff := retry.WithMaxRetries(uint64(max(p.cfg.RetryAttempts, 0)), retry.NewFibonacci(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, c, err := p.fetchOnce(ctx)
		if err != nil {
			if errors.Is(err, ErrInvalidPayload) {
				return err
			}
			return retry.RetryableError(err)
		}
		body, cfg = b, c
		return nil
	})
	if err != nil {
		return errors.Join(ErrFetchFailed, err)
	}

	hash := fnv.New64a()
	hash.Write(body)
	changed := p.everFetched.Load() && hash.Sum64() != p.lastHash

	p.snapshot.Store(cfg)
	p.lastHash = hash.Sum64()
	p.lastFetch = time.Now()
	p.everFetched.Store(true)

	if changed {
		p.callbacks.fire()
	}
	return nil
}

// fetchOnce performs a single GET and validates the payload.
func (p *RemoteProvider) fetchOnce(ctx context.Context) ([]byte, *VariablesConfig, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint(""), nil)
	if err != nil {
		return nil, nil, err
	}
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, nil, fmt.Errorf("variables endpoint returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}

	cfg := &VariablesConfig{}
	if err := json.Unmarshal(body, cfg); err != nil {
		return nil, nil, errors.Join(ErrInvalidPayload, err)
	}
	if cfg.Variables == nil {
		cfg.Variables = map[string]*VariableConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, errors.Join(ErrInvalidPayload, err)
	}
	return body, cfg, nil
}

// GetSerializedValue resolves one variable from the current snapshot. When
// configured to block before the first resolve, it performs one synchronous
// refresh if no fetch has ever completed.
func (p *RemoteProvider) GetSerializedValue(ctx context.Context, name string, opts ...ResolveOption) Resolution {
	o := newResolveOptions(opts)

	if p.cfg.BlockFirstResolve && !p.everFetched.Load() {
		if err := p.Refresh(ctx, true); err != nil {
			p.log.Warn("first-resolve refresh failed", slog.String("error", err.Error()))
		}
	}

	snap := p.snapshot.Load()
	if snap == nil {
		return Resolution{Name: name, Reason: ReasonMissingConfig}
	}
	return snap.ResolveSerializedValue(name, o.targetingKey, o.attributes)
}

// GetVariableConfig returns one variable's configuration from the current
// snapshot, fetching synchronously if no snapshot exists yet.
func (p *RemoteProvider) GetVariableConfig(ctx context.Context, name string) (*VariableConfig, error) {
	snap, err := p.currentSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	vc, ok := snap.Get(name)
	if !ok {
		return nil, ErrVariableNotFound
	}
	return vc.Clone(), nil
}

// GetAllVariablesConfig returns the current snapshot, fetching synchronously
// if none exists yet. The returned copy is safe to mutate.
func (p *RemoteProvider) GetAllVariablesConfig(ctx context.Context) (*VariablesConfig, error) {
	snap, err := p.currentSnapshot(ctx)
	if err != nil {
		return nil, err
	}
	out := &VariablesConfig{Variables: make(map[string]*VariableConfig, len(snap.Variables))}
	for name, vc := range snap.Variables {
		out.Variables[name] = vc.Clone()
	}
	return out, nil
}

func (p *RemoteProvider) currentSnapshot(ctx context.Context) (*VariablesConfig, error) {
	if snap := p.snapshot.Load(); snap != nil {
		return snap, nil
	}
	if err := p.Refresh(ctx, true); err != nil {
		return nil, err
	}
	if snap := p.snapshot.Load(); snap != nil {
		return snap, nil
	}
	return nil, ErrFetchFailed
}

// CreateVariable creates a variable through the remote API.
func (p *RemoteProvider) CreateVariable(ctx context.Context, cfg *VariableConfig) error {
	if cfg == nil {
		return errors.Join(ErrInvalidConfig, errors.New("configuration is nil"))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return p.mutate(ctx, http.MethodPost, p.endpoint(""), cfg)
}

// UpdateVariable updates a variable through the remote API.
func (p *RemoteProvider) UpdateVariable(ctx context.Context, cfg *VariableConfig) error {
	if cfg == nil {
		return errors.Join(ErrInvalidConfig, errors.New("configuration is nil"))
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return p.mutate(ctx, http.MethodPut, p.endpoint(cfg.Name), cfg)
}

// DeleteVariable deletes a variable through the remote API.
func (p *RemoteProvider) DeleteVariable(ctx context.Context, name string) error {
	return p.mutate(ctx, http.MethodDelete, p.endpoint(name), nil)
}

// BatchUpdate sends the whole batch to the remote API in one call. A nil
// configuration deletes the variable.
func (p *RemoteProvider) BatchUpdate(ctx context.Context, changes map[string]*VariableConfig) error {
	payload := struct {
		Changes map[string]*VariableConfig `json:"changes"`
	}{Changes: changes}
	return p.mutate(ctx, http.MethodPost, p.endpoint("batch"), payload)
}

// mutate performs one CRUD request and maps conflict/not-found responses to
// the provider error contract. A successful mutation wakes the polling
// worker so the local snapshot catches up promptly.
func (p *RemoteProvider) mutate(ctx context.Context, method, endpoint string, body any) error {
	if p.isClosed() {
		return ErrProviderClosed
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return errors.Join(ErrInvalidConfig, err)
		}
		reader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	p.authorize(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		p.markStale()
		return nil
	case resp.StatusCode == http.StatusConflict:
		return ErrVariableAlreadyExists
	case resp.StatusCode == http.StatusNotFound:
		return ErrVariableNotFound
	default:
		return fmt.Errorf("variables endpoint returned status %d", resp.StatusCode)
	}
}

// markStale expires the freshness window and wakes the polling worker.
func (p *RemoteProvider) markStale() {
	p.fetchMu.Lock()
	p.lastFetch = time.Time{}
	p.fetchMu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// OnChange registers a callback fired from the polling worker whenever a
// fetch swaps in a snapshot with different content.
func (p *RemoteProvider) OnChange(cb func()) {
	p.callbacks.add(cb)
}

// Refresh and resolution remain usable until Close. Close is idempotent: it
// stops the polling worker and waits for it with a bounded timeout so
// process teardown cannot hang.
func (p *RemoteProvider) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		select {
		case p.wake <- struct{}{}:
		default:
		}
		select {
		case <-p.stopped:
		case <-time.After(p.cfg.CloseTimeout):
			p.log.Warn("variables polling worker did not stop before timeout")
		}
	})
	return nil
}

func (p *RemoteProvider) isClosed() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *RemoteProvider) endpoint(suffix string) string {
	base := strings.TrimSuffix(p.cfg.BaseURL, "/") + "/v1/variables/"
	if suffix == "" {
		return base
	}
	return base + url.PathEscape(suffix)
}

func (p *RemoteProvider) authorize(req *http.Request) {
	if p.cfg.APIToken != "" {
		req.Header.Set("Authorization", "bearer "+p.cfg.APIToken)
	}
}
