package outbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch uploads files dropped into dir's .outbox while ctx lives. A file
// counts as stable once no write lands on the directory for the stable
// window; each quiet period triggers a Flush. The returned stop function
// cancels the watch and waits for the loop to exit. The post-execution
// Flush still runs afterwards to catch anything the watcher missed.
func (p *Processor) Watch(ctx context.Context, dir, channel, threadTS string) (func(), error) {
	outdir := filepath.Join(dir, Dir)
	if err := os.MkdirAll(outdir, 0o755); err != nil {
		return nil, fmt.Errorf("create outbox: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("outbox watcher: %w", err)
	}
	if err := watcher.Add(outdir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch outbox: %w", err)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.watchLoop(watchCtx, watcher, dir, channel, threadTS)
	}()

	stop := func() {
		cancel()
		watcher.Close()
		wg.Wait()
	}
	return stop, nil
}

func (p *Processor) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, dir, channel, threadTS string) {
	stable := p.stable
	if stable <= 0 {
		stable = defaultStableWindow
	}

	var mu sync.Mutex
	var timer *time.Timer
	scheduleFlush := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(stable, func() {
			if ctx.Err() != nil {
				return
			}
			if err := p.Flush(ctx, dir, channel, threadTS); err != nil {
				p.logger.Warn("outbox watch flush failed", "error", err)
			}
		})
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				scheduleFlush()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Warn("outbox watch error", "error", err)
		}
	}
}
