package bus

import (
	"sync"
	"time"
)

// maxBufferedBytes bounds how much accumulated text a StreamNotifier will
// hold before forcing an out-of-cadence flush, so a long, fast-streaming
// reply doesn't sit unflushed until it blows past an adapter's own message
// size limit (Telegram caps edits at 4096 bytes, Discord at 2000).
const maxBufferedBytes = 3500

// StreamNotifier accumulates text deltas and flushes the full accumulated
// text to a callback at a throttled interval (default 1.5s) or as soon as
// the buffer crosses maxBufferedBytes, whichever comes first. This prevents
// excessive per-platform API edits while still showing streaming progress
// and keeping each edit within a messaging adapter's size limit.
type StreamNotifier struct {
	mu       sync.Mutex
	text     string
	onUpdate func(fullText string)
	ticker   *time.Ticker
	done     chan struct{}
	dirty    bool
}

// NewStreamNotifier creates a notifier that calls onUpdate with the full
// accumulated text every interval.
func NewStreamNotifier(interval time.Duration, onUpdate func(fullText string)) *StreamNotifier {
	sn := &StreamNotifier{
		onUpdate: onUpdate,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
	}

	go sn.loop()
	return sn
}

func (sn *StreamNotifier) loop() {
	for {
		select {
		case <-sn.ticker.C:
			sn.mu.Lock()
			if sn.dirty && sn.text != "" {
				text := sn.text
				sn.dirty = false
				sn.mu.Unlock()
				sn.onUpdate(text)
			} else {
				sn.mu.Unlock()
			}
		case <-sn.done:
			return
		}
	}
}

// Append adds a text delta to the accumulator, forcing an immediate flush
// if the buffered text has crossed maxBufferedBytes rather than waiting for
// the next ticker tick.
func (sn *StreamNotifier) Append(delta string) {
	sn.mu.Lock()
	sn.text += delta
	sn.dirty = true
	overLimit := len(sn.text) >= maxBufferedBytes
	text := sn.text
	if overLimit {
		sn.dirty = false
	}
	sn.mu.Unlock()

	if overLimit {
		sn.onUpdate(text)
	}
}

// Flush stops the ticker and performs a final push if there's unsent content.
func (sn *StreamNotifier) Flush() {
	sn.ticker.Stop()
	close(sn.done)

	sn.mu.Lock()
	if sn.dirty && sn.text != "" {
		text := sn.text
		sn.dirty = false
		sn.mu.Unlock()
		sn.onUpdate(text)
	} else {
		sn.mu.Unlock()
	}
}

// FullText returns the current accumulated text.
func (sn *StreamNotifier) FullText() string {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	return sn.text
}
