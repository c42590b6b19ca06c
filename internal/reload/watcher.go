package reload

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// Watcher triggers Handler.Reload on SIGHUP and, when an interval is set,
// whenever the file's modification time moves forward.
type Watcher struct {
	handler  *Handler
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewWatcher creates a watcher. A zero interval disables file polling.
func NewWatcher(h *Handler, interval time.Duration) *Watcher {
	return &Watcher{handler: h, interval: interval}
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.once.Do(func() {
		ctx, w.cancel = context.WithCancel(context.WithoutCancel(ctx))
		w.done = make(chan struct{})

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGHUP)
		lastMod := modTime(w.handler.path)
		go func() {
			defer close(w.done)
			defer signal.Stop(sigCh)
			w.loop(ctx, sigCh, lastMod)
		}()
	})
	return nil
}

// Stop ends watching and waits for an in-flight reload. It is safe to
// call before Start.
func (w *Watcher) Stop(context.Context) error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	<-w.done
	return nil
}

func (w *Watcher) loop(ctx context.Context, sigCh <-chan os.Signal, lastMod time.Time) {
	var tick <-chan time.Time
	if w.interval > 0 {
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	logger := w.handler.logger
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			logger.Info("SIGHUP received, reloading configuration")
		case <-tick:
			current := modTime(w.handler.path)
			if current.IsZero() || !current.After(lastMod) {
				continue
			}
			lastMod = current
			logger.Info("config file changed, reloading", "path", w.handler.path)
		}
		if _, err := w.handler.Reload(ctx); err != nil {
			logger.Error("reload failed", "error", err)
		}
	}
}

func modTime(path string) time.Time {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
