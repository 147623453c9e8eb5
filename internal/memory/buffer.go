// Package memory holds the brain's short-term memory: per-channel bounded
// buffers of recent chat lines that feed summarization and reply context.
// Nothing here persists; a restart starts from an empty window.
package memory

import (
	"sort"
	"strings"
	"time"
)

const (
	defaultWindowSec = 120
	defaultMaxItems  = 200
)

// ChatItem is one indexed chat line.
type ChatItem struct {
	TS      int64
	Channel string
	User    string
	Text    string
}

// Stats describes recent activity in one channel buffer.
type Stats struct {
	LastMessageTS int64
	MsgsLast10s   int
	MsgsLast60s   int
}

// ChannelBuffer keeps the most recent chat lines for one channel, bounded
// by both a time window and a hard item cap. Every observation trims
// first, so results are never stale with respect to the clock. Not safe
// for concurrent use; the brain loop is the only accessor.
type ChannelBuffer struct {
	windowSec int64
	maxItems  int
	clock     func() time.Time
	items     []ChatItem
}

// NewChannelBuffer creates a buffer holding at most maxItems lines no
// older than windowSec. Non-positive arguments fall back to defaults.
func NewChannelBuffer(windowSec, maxItems int) *ChannelBuffer {
	if windowSec <= 0 {
		windowSec = defaultWindowSec
	}
	if maxItems <= 0 {
		maxItems = defaultMaxItems
	}
	return &ChannelBuffer{
		windowSec: int64(windowSec),
		maxItems:  maxItems,
		clock:     time.Now,
	}
}

// Add appends item and evicts anything that fell outside the window or cap.
func (b *ChannelBuffer) Add(item ChatItem) {
	b.items = append(b.items, item)
	b.trim()
}

// Len reports the current number of buffered lines after trimming.
func (b *ChannelBuffer) Len() int {
	b.trim()
	return len(b.items)
}

// Snapshot returns a copy of the buffered lines, oldest first. A positive
// lastN limits the copy to the most recent lastN lines.
func (b *ChannelBuffer) Snapshot(lastN int) []ChatItem {
	b.trim()
	items := b.items
	if lastN > 0 && lastN < len(items) {
		items = items[len(items)-lastN:]
	}
	out := make([]ChatItem, len(items))
	copy(out, items)
	return out
}

// Stats counts recent activity. An empty buffer reports a zero
// LastMessageTS so callers can tell "never spoke" from "spoke at epoch".
func (b *ChannelBuffer) Stats() Stats {
	b.trim()
	if len(b.items) == 0 {
		return Stats{}
	}
	now := b.clock().Unix()
	var s Stats
	s.LastMessageTS = b.items[len(b.items)-1].TS
	for _, it := range b.items {
		if it.TS >= now-10 {
			s.MsgsLast10s++
		}
		if it.TS >= now-60 {
			s.MsgsLast60s++
		}
	}
	return s
}

// trim drops lines older than the window, then oldest lines over the cap.
// Survivors are compacted into the existing backing array.
func (b *ChannelBuffer) trim() {
	cutoff := b.clock().Unix() - b.windowSec
	start := 0
	for start < len(b.items) && b.items[start].TS < cutoff {
		start++
	}
	if over := len(b.items) - start - b.maxItems; over > 0 {
		start += over
	}
	if start > 0 {
		b.items = append(b.items[:0], b.items[start:]...)
	}
}

// ChatState owns one buffer per channel, created lazily on first use.
type ChatState struct {
	windowSec int
	maxItems  int
	clock     func() time.Time
	byChannel map[string]*ChannelBuffer
}

// NewChatState creates an empty registry of channel buffers sharing the
// given window and cap.
func NewChatState(windowSec, maxItems int) *ChatState {
	return &ChatState{
		windowSec: windowSec,
		maxItems:  maxItems,
		clock:     time.Now,
		byChannel: make(map[string]*ChannelBuffer),
	}
}

// WithClock replaces the time source used for window eviction. Buffers
// created afterwards inherit it.
func (s *ChatState) WithClock(clock func() time.Time) *ChatState {
	s.clock = clock
	return s
}

// Add routes item to its channel's buffer.
func (s *ChatState) Add(item ChatItem) {
	s.Buffer(item.Channel).Add(item)
}

// Buffer returns the buffer for channel, creating it when first seen.
func (s *ChatState) Buffer(channel string) *ChannelBuffer {
	ch := strings.ToLower(channel)
	buf, ok := s.byChannel[ch]
	if !ok {
		buf = NewChannelBuffer(s.windowSec, s.maxItems)
		buf.clock = s.clock
		s.byChannel[ch] = buf
	}
	return buf
}

// Channels lists channels with a live buffer, sorted for determinism.
func (s *ChatState) Channels() []string {
	out := make([]string, 0, len(s.byChannel))
	for ch := range s.byChannel {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out
}
