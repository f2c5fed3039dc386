package hooks

import (
	"context"
	"testing"
	"time"
)

type stubDisplay struct {
	messages []string
}

func (d *stubDisplay) ShowMessage(_ context.Context, text, _, _ string) {
	d.messages = append(d.messages, text)
}

type stubApproval struct{}

func (stubApproval) RequestApproval(_ context.Context, req ApprovalRequest) (string, error) {
	return req.Default, nil
}

func TestMountAndGetCapability(t *testing.T) {
	c := NewCoordinator("alpha:dm:U1", nil)

	if got := c.Display(); got != nil {
		t.Fatal("display should be nil before mount")
	}

	d := &stubDisplay{}
	if err := c.Mount(CapDisplay, d); err != nil {
		t.Fatalf("mount display: %v", err)
	}
	if err := c.Mount(CapApproval, stubApproval{}); err != nil {
		t.Fatalf("mount approval: %v", err)
	}
	var injected []string
	if err := c.Mount(CapInject, InjectFunc(func(text string) { injected = append(injected, text) })); err != nil {
		t.Fatalf("mount inject: %v", err)
	}

	if c.Display() == nil || c.Approval() == nil || c.Inject() == nil {
		t.Fatal("capabilities not resolvable after mount")
	}
	c.Inject()("steer left")
	if len(injected) != 1 || injected[0] != "steer left" {
		t.Errorf("inject not wired: %v", injected)
	}
	if got := c.GetCapability("nonexistent"); got != nil {
		t.Errorf("unknown capability = %v, want nil", got)
	}
}

func TestMountRejectsWrongTypes(t *testing.T) {
	c := NewCoordinator("s", nil)
	if err := c.Mount(CapDisplay, "not a display"); err == nil {
		t.Error("expected error mounting string as display")
	}
	if err := c.Mount("bogus-category", 1); err == nil {
		t.Error("expected error for unknown category")
	}
	if err := c.Mount(CategoryTools, nil); err == nil {
		t.Error("expected error for nil item")
	}
}

func TestMountToolsAppends(t *testing.T) {
	c := NewCoordinator("s", nil)
	c.Mount(CategoryTools, "tool-a")
	c.Mount(CategoryTools, "tool-b")
	tools := c.Tools()
	if len(tools) != 2 {
		t.Fatalf("tools = %v, want 2 entries", tools)
	}
}

func TestFireFirstDenyWins(t *testing.T) {
	c := NewCoordinator("s", nil)
	var order []string
	c.On(EventToolPre, func(_ context.Context, _ *Event) Result {
		order = append(order, "first")
		return Continue()
	})
	c.On(EventToolPre, func(_ context.Context, _ *Event) Result {
		order = append(order, "second")
		return Deny("tool blocked")
	})
	c.On(EventToolPre, func(_ context.Context, _ *Event) Result {
		order = append(order, "third")
		return Continue()
	})

	result := c.Fire(context.Background(), &Event{Type: EventToolPre, Tool: "run_command", Timestamp: time.Now()})
	if result.Action != ActionDeny || result.Reason != "tool blocked" {
		t.Errorf("result = %+v", result)
	}
	if len(order) != 2 {
		t.Errorf("handlers after deny still ran: %v", order)
	}
}

func TestFireNoHandlersContinues(t *testing.T) {
	c := NewCoordinator("s", nil)
	result := c.Fire(context.Background(), &Event{Type: EventPromptSubmit})
	if result.Action != ActionContinue {
		t.Errorf("result = %+v", result)
	}
}

func TestFireRecoversPanic(t *testing.T) {
	c := NewCoordinator("s", nil)
	c.On(EventToolPost, func(_ context.Context, _ *Event) Result {
		panic("handler bug")
	})
	ran := false
	c.On(EventToolPost, func(_ context.Context, _ *Event) Result {
		ran = true
		return Continue()
	})

	result := c.Fire(context.Background(), &Event{Type: EventToolPost})
	if result.Action != ActionContinue {
		t.Errorf("panicking handler changed verdict: %+v", result)
	}
	if !ran {
		t.Error("handler after panicking one did not run")
	}
}

func TestFireStampsSession(t *testing.T) {
	c := NewCoordinator("alpha:dm:U1", nil)
	var seen string
	c.On(EventPromptSubmit, func(_ context.Context, ev *Event) Result {
		seen = ev.Session
		return Continue()
	})
	c.Fire(context.Background(), &Event{Type: EventPromptSubmit})
	if seen != "alpha:dm:U1" {
		t.Errorf("session = %q", seen)
	}
}
