package variable

import (
	"log/slog"
	"slices"
	"sync"
)

// callbackList is the change-callback fan-out shared by providers whose
// configuration changes behind the caller's back.
type callbackList struct {
	mu  sync.Mutex
	fns []func()
	log *slog.Logger
}

func (l *callbackList) add(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.fns = append(l.fns, fn)
	l.mu.Unlock()
}

// fire invokes every registered callback. One callback panicking must not
// prevent the others from running.
func (l *callbackList) fire() {
	l.mu.Lock()
	fns := slices.Clone(l.fns)
	log := l.log
	l.mu.Unlock()
	if log == nil {
		log = slog.Default()
	}

	for _, fn := range fns {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error("variable change callback panicked", slog.Any("panic", r))
				}
			}()
			fn()
		}()
	}
}
