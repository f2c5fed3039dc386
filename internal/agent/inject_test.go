package agent

import (
	"fmt"
	"sync"
	"testing"
)

func TestInjectionQueueFIFO(t *testing.T) {
	q := NewInjectionQueue()
	q.Push("first")
	q.Push("second")
	q.Push("third")

	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}
	got := q.Drain()
	want := []string{"first", "second", "third"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Drain = %v, want %v", got, want)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len after drain = %d", q.Len())
	}
	if again := q.Drain(); len(again) != 0 {
		t.Errorf("second drain returned %v", again)
	}
}

func TestInjectionQueueConcurrentPush(t *testing.T) {
	q := NewInjectionQueue()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Push(fmt.Sprintf("msg-%d", i))
		}(i)
	}
	wg.Wait()
	if got := len(q.Drain()); got != 50 {
		t.Errorf("drained %d messages, want 50", got)
	}
}

func TestInjectionMessageFormat(t *testing.T) {
	got := InjectionMessage([]string{"fix the header", "use dark mode"})
	want := "[The user sent additional messages while you were working. Incorporate this into your current task:]\n- fix the header\n- use dark mode"
	if got != want {
		t.Errorf("InjectionMessage = %q, want %q", got, want)
	}
}
