package bus

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestStreamNotifierFlushesOnTicker(t *testing.T) {
	var mu sync.Mutex
	var got string
	n := NewStreamNotifier(10*time.Millisecond, func(fullText string) {
		mu.Lock()
		got = fullText
		mu.Unlock()
	})
	n.Append("hello")

	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		mu.Lock()
		g := got
		mu.Unlock()
		if g == "hello" {
			n.Flush()
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	n.Flush()
	t.Fatal("expected ticker to flush accumulated text within the deadline")
}

func TestStreamNotifierForceFlushesOverBufferLimit(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	var lastLen int
	n := NewStreamNotifier(time.Hour, func(fullText string) { // ticker effectively disabled
		mu.Lock()
		calls++
		lastLen = len(fullText)
		mu.Unlock()
	})
	defer n.Flush()

	chunk := strings.Repeat("x", 500)
	for i := 0; i < 8; i++ { // 4000 bytes, crosses maxBufferedBytes well before the ticker would fire
		n.Append(chunk)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls == 0 {
		t.Fatal("expected a forced flush once buffered text crossed the byte limit")
	}
	if lastLen < maxBufferedBytes {
		t.Errorf("forced flush delivered %d bytes, want at least %d", lastLen, maxBufferedBytes)
	}
}

func TestStreamNotifierFlushSendsFinalUnsentText(t *testing.T) {
	var mu sync.Mutex
	var got string
	n := NewStreamNotifier(time.Hour, func(fullText string) {
		mu.Lock()
		got = fullText
		mu.Unlock()
	})
	n.Append("final words")
	n.Flush()

	mu.Lock()
	defer mu.Unlock()
	if got != "final words" {
		t.Errorf("got = %q, want \"final words\"", got)
	}
}
