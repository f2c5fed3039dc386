package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Mount categories.
const (
	CategoryTools = "tools"
)

// Coordinator holds one session's mounted capabilities. Tools and handlers
// are append-only lists; display, approval, and inject are single slots.
// Mounts may happen after session creation — connector tools that close
// over a live Slack channel are mounted once the channel is known — so all
// access is guarded for concurrent use.
type Coordinator struct {
	mu           sync.RWMutex
	session      string
	logger       *slog.Logger
	tools        []any
	handlers     map[EventType][]Handler
	capabilities map[string]any
}

// NewCoordinator builds an empty coordinator for a session.
func NewCoordinator(session string, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		session:      session,
		logger:       logger.With("component", "hooks", "session", session),
		handlers:     make(map[EventType][]Handler),
		capabilities: make(map[string]any),
	}
}

// Mount attaches an item to a category. The tools category appends;
// capability slots (display, approval, orchestrator.inject) replace any
// previous holder, which supports reconnect scenarios.
func (c *Coordinator) Mount(category string, item any) error {
	if item == nil {
		return fmt.Errorf("hooks: mount %s: item is nil", category)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	switch category {
	case CategoryTools:
		c.tools = append(c.tools, item)
	case CapDisplay:
		if _, ok := item.(Display); !ok {
			return fmt.Errorf("hooks: mount display: %T does not implement Display", item)
		}
		c.capabilities[CapDisplay] = item
	case CapApproval:
		if _, ok := item.(Approval); !ok {
			return fmt.Errorf("hooks: mount approval: %T does not implement Approval", item)
		}
		c.capabilities[CapApproval] = item
	case CapInject:
		if _, ok := item.(InjectFunc); !ok {
			return fmt.Errorf("hooks: mount inject: %T is not an InjectFunc", item)
		}
		c.capabilities[CapInject] = item
	default:
		return fmt.Errorf("hooks: unknown mount category %q", category)
	}
	c.logger.Debug("mounted capability", "category", category)
	return nil
}

// On registers a handler for an event type. Handlers run in mount order.
func (c *Coordinator) On(event EventType, h Handler) {
	if h == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
}

// GetCapability returns the mounted handle for a capability name, or nil.
func (c *Coordinator) GetCapability(name string) any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.capabilities[name]
}

// Tools returns a snapshot of mounted tool implementations.
func (c *Coordinator) Tools() []any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]any, len(c.tools))
	copy(out, c.tools)
	return out
}

// Display returns the mounted display capability, or nil.
func (c *Coordinator) Display() Display {
	if d, ok := c.GetCapability(CapDisplay).(Display); ok {
		return d
	}
	return nil
}

// Approval returns the mounted approval capability, or nil.
func (c *Coordinator) Approval() Approval {
	if a, ok := c.GetCapability(CapApproval).(Approval); ok {
		return a
	}
	return nil
}

// Inject returns the mounted inject function, or nil.
func (c *Coordinator) Inject() InjectFunc {
	if f, ok := c.GetCapability(CapInject).(InjectFunc); ok {
		return f
	}
	return nil
}

// Fire dispatches an event to its handlers in order. The first deny wins;
// a handler panic is logged and treated as continue so a broken hook
// cannot veto work it never evaluated.
func (c *Coordinator) Fire(ctx context.Context, ev *Event) Result {
	if ev.Session == "" {
		ev.Session = c.session
	}
	c.mu.RLock()
	handlers := make([]Handler, len(c.handlers[ev.Type]))
	copy(handlers, c.handlers[ev.Type])
	c.mu.RUnlock()

	for _, h := range handlers {
		result := c.fireOne(ctx, h, ev)
		if result.Action == ActionDeny {
			c.logger.Info("hook denied event",
				"event", string(ev.Type), "tool", ev.Tool, "reason", result.Reason)
			return result
		}
	}
	return Continue()
}

func (c *Coordinator) fireOne(ctx context.Context, h Handler, ev *Event) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("hook handler panicked", "event", string(ev.Type), "panic", r)
			result = Continue()
		}
	}()
	return h(ctx, ev)
}
