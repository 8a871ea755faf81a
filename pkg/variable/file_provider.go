package variable

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// FileProvider serves variables from one JSON or YAML file on disk. The file
// is parsed and validated as a whole; the resulting snapshot is replaced
// atomically, so readers never observe a half-loaded configuration. With
// watching enabled the provider reloads on file changes, debounced so editor
// write bursts produce one reload.
//
// The file is the source of truth, so the provider is read-only: every
// mutation fails with ErrReadOnlyProvider.
type FileProvider struct {
	path     string
	log      *slog.Logger
	debounce time.Duration

	snapshot atomic.Pointer[VariablesConfig]

	loadMu   sync.Mutex
	lastHash uint64 // guarded by loadMu

	callbacks callbackList

	watcher   *fsnotify.Watcher
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
}

// FileOption configures a FileProvider.
type FileOption func(*fileConfig)

type fileConfig struct {
	log      *slog.Logger
	watch    bool
	debounce time.Duration
}

// WithFileLogger sets the logger used for reload warnings.
func WithFileLogger(log *slog.Logger) FileOption {
	return func(c *fileConfig) {
		if log != nil {
			c.log = log
		}
	}
}

// WithWatch enables reloading when the file changes on disk.
func WithWatch() FileOption {
	return func(c *fileConfig) { c.watch = true }
}

// WithDebounce sets the quiet period collapsing bursts of file events into
// one reload. Default 200ms.
func WithDebounce(d time.Duration) FileOption {
	return func(c *fileConfig) {
		if d > 0 {
			c.debounce = d
		}
	}
}

// NewFileProvider loads the configuration file and optionally starts
// watching it. An unreadable or invalid file fails construction: a broken
// artifact should stop deployment, not limp along.
func NewFileProvider(path string, opts ...FileOption) (*FileProvider, error) {
	cfg := fileConfig{log: slog.Default(), debounce: 200 * time.Millisecond}
	for _, opt := range opts {
		opt(&cfg)
	}

	p := &FileProvider{
		path:     path,
		log:      cfg.log,
		debounce: cfg.debounce,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	p.callbacks.log = cfg.log

	if err := p.load(); err != nil {
		return nil, err
	}

	if !cfg.watch {
		close(p.stopped)
		return p, nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory, not the file: editors and atomic writers replace
	// the file, which drops a direct watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, err
	}
	p.watcher = watcher

	go p.watchLoop()
	return p, nil
}

// load reads, parses and validates the file, then swaps the snapshot.
func (p *FileProvider) load() error {
	data, err := os.ReadFile(p.path)
	if err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}

	cfg := &VariablesConfig{}
	switch strings.ToLower(filepath.Ext(p.path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return errors.Join(ErrInvalidPayload, fmt.Errorf("parse %s: %w", p.path, err))
	}
	if cfg.Variables == nil {
		cfg.Variables = map[string]*VariableConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return errors.Join(ErrInvalidPayload, err)
	}

	hash := fnv.New64a()
	hash.Write(data)

	p.loadMu.Lock()
	changed := p.lastHash != 0 && hash.Sum64() != p.lastHash
	p.lastHash = hash.Sum64()
	p.snapshot.Store(cfg)
	p.loadMu.Unlock()

	if changed {
		p.callbacks.fire()
	}
	return nil
}

// watchLoop reloads after file events settle. Reload failures keep the
// previous snapshot and log a warning, mirroring the remote provider's
// availability-over-freshness behavior.
func (p *FileProvider) watchLoop() {
	defer close(p.stopped)

	var timer *time.Timer
	var pending <-chan time.Time
	for {
		select {
		case <-p.done:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(p.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(p.debounce)
				pending = timer.C
			} else {
				timer.Reset(p.debounce)
			}
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.log.Warn("variables file watcher error", slog.String("error", err.Error()))
		case <-pending:
			if err := p.load(); err != nil {
				p.log.Warn("variables file reload failed, keeping previous snapshot",
					slog.String("path", p.path), slog.String("error", err.Error()))
			}
		}
	}
}

// GetSerializedValue resolves one variable from the current snapshot.
func (p *FileProvider) GetSerializedValue(_ context.Context, name string, opts ...ResolveOption) Resolution {
	o := newResolveOptions(opts)
	snap := p.snapshot.Load()
	if snap == nil {
		return Resolution{Name: name, Reason: ReasonMissingConfig}
	}
	return snap.ResolveSerializedValue(name, o.targetingKey, o.attributes)
}

// Refresh reloads the file immediately.
func (p *FileProvider) Refresh(_ context.Context, _ bool) error {
	return p.load()
}

// Close stops the watcher. It is idempotent and bounded.
func (p *FileProvider) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
		if p.watcher != nil {
			_ = p.watcher.Close()
		}
		select {
		case <-p.stopped:
		case <-time.After(5 * time.Second):
			p.log.Warn("variables file watcher did not stop before timeout")
		}
	})
	return nil
}

// GetVariableConfig returns one variable's configuration from the snapshot.
func (p *FileProvider) GetVariableConfig(_ context.Context, name string) (*VariableConfig, error) {
	snap := p.snapshot.Load()
	if snap == nil {
		return nil, ErrVariableNotFound
	}
	vc, ok := snap.Get(name)
	if !ok {
		return nil, ErrVariableNotFound
	}
	return vc.Clone(), nil
}

// GetAllVariablesConfig returns a copy of the current snapshot.
func (p *FileProvider) GetAllVariablesConfig(context.Context) (*VariablesConfig, error) {
	snap := p.snapshot.Load()
	if snap == nil {
		return &VariablesConfig{Variables: map[string]*VariableConfig{}}, nil
	}
	out := &VariablesConfig{Variables: make(map[string]*VariableConfig, len(snap.Variables))}
	for name, vc := range snap.Variables {
		out.Variables[name] = vc.Clone()
	}
	return out, nil
}

// CreateVariable fails: the file on disk is the source of truth.
func (p *FileProvider) CreateVariable(context.Context, *VariableConfig) error {
	return ErrReadOnlyProvider
}

// UpdateVariable fails: the file on disk is the source of truth.
func (p *FileProvider) UpdateVariable(context.Context, *VariableConfig) error {
	return ErrReadOnlyProvider
}

// DeleteVariable fails: the file on disk is the source of truth.
func (p *FileProvider) DeleteVariable(context.Context, string) error {
	return ErrReadOnlyProvider
}

// OnChange registers a callback fired after every reload that changes the
// file content.
func (p *FileProvider) OnChange(cb func()) {
	p.callbacks.add(cb)
}
