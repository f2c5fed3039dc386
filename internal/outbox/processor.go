// Package outbox delivers files an agent drops into its session's
// .outbox/ directory back to the Slack thread. Every execution ends with
// a Flush; watch mode additionally uploads files as they appear so long
// artifacts reach the user before the run finishes.
package outbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/slack-go/slack"

	"github.com/troupehq/troupe/internal/format"
)

// Dir is the outbox directory name inside a session working directory.
const Dir = ".outbox"

// defaultStableWindow is how long a file must stay quiet before watch
// mode treats it as fully written.
const defaultStableWindow = 2 * time.Second

// Uploader is the slice of the Slack client the processor needs.
type Uploader interface {
	UploadFileV2Context(ctx context.Context, params slack.UploadFileV2Parameters) (*slack.FileSummary, error)
}

// PostFunc posts a plain text message to a conversation. The processor
// uses it for user-facing notices (a file over the size cap).
type PostFunc func(ctx context.Context, channel, threadTS, text string) error

// Processor uploads outbox files and deletes them on success. Failed
// uploads leave the file in place for the next flush.
type Processor struct {
	client  Uploader
	post    PostFunc
	sizeCap int64
	stable  time.Duration
	logger  *slog.Logger

	mu       sync.Mutex
	notified map[string]struct{}
}

// NewProcessor creates a processor. sizeCap <= 0 disables the cap; post
// may be nil when no conversation back-channel exists.
func NewProcessor(client Uploader, post PostFunc, sizeCap int64, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		client:   client,
		post:     post,
		sizeCap:  sizeCap,
		stable:   defaultStableWindow,
		logger:   logger.With("component", "outbox"),
		notified: make(map[string]struct{}),
	}
}

// Flush uploads every regular file in dir's .outbox to the conversation
// and removes the uploaded ones. Dotfiles and subdirectories are left
// alone. A missing outbox directory is a no-op.
func (p *Processor) Flush(ctx context.Context, dir, channel, threadTS string) error {
	outdir := filepath.Join(dir, Dir)
	entries, err := os.ReadDir(outdir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read outbox: %w", err)
	}

	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		path := filepath.Join(outdir, name)
		info, err := entry.Info()
		if err != nil {
			errs = append(errs, fmt.Errorf("stat %s: %w", name, err))
			continue
		}

		if p.sizeCap > 0 && info.Size() > p.sizeCap {
			p.logger.Warn("outbox file over size cap", "file", name, "size", info.Size(), "cap", p.sizeCap)
			p.notifyOversize(ctx, channel, threadTS, path, name, info.Size())
			continue
		}

		_, err = p.client.UploadFileV2Context(ctx, slack.UploadFileV2Parameters{
			File:            path,
			Filename:        name,
			FileSize:        int(info.Size()),
			Channel:         channel,
			ThreadTimestamp: threadTS,
		})
		if err != nil {
			p.logger.Warn("outbox upload failed", "file", name, "error", err)
			errs = append(errs, fmt.Errorf("upload %s: %w", name, err))
			continue
		}
		if err := os.Remove(path); err != nil {
			p.logger.Warn("uploaded outbox file not removed", "file", name, "error", err)
		}
		p.logger.Info("outbox file delivered", "file", name, "channel", channel)
	}
	return errors.Join(errs...)
}

// notifyOversize posts the friendly over-cap notice once per file and
// size. Oversized files stay in the outbox so the user can fetch them
// another way; watch mode re-flushes must not repeat the notice.
func (p *Processor) notifyOversize(ctx context.Context, channel, threadTS, path, name string, size int64) {
	if p.post == nil {
		return
	}
	key := fmt.Sprintf("%s|%d", path, size)
	p.mu.Lock()
	if _, seen := p.notified[key]; seen {
		p.mu.Unlock()
		return
	}
	p.notified[key] = struct{}{}
	p.mu.Unlock()

	text := fmt.Sprintf("That file's a bit too big to send back (%s is %s), so I left it in %s/.",
		name, format.Bytes(size), Dir)
	if err := p.post(ctx, channel, threadTS, text); err != nil {
		p.logger.Warn("oversize notice not delivered", "file", name, "error", err)
	}
}
