// Package caption merges predicted tokens into the running caption.
package caption

import (
	"strings"
	"time"
)

const (
	// DefaultMaxWords bounds the caption to a sliding window of words.
	DefaultMaxWords = 20
	// DefaultTypingWindow is how long the caption counts as freshly updated.
	DefaultTypingWindow = time.Second
)

// Buffer is the caption state: the most recent words and the time of the
// last accepted token. It is not safe for concurrent use; Service owns one.
type Buffer struct {
	words      []string
	maxWords   int
	window     time.Duration
	now        func() time.Time
	lastUpdate time.Time
}

// NewBuffer creates an empty buffer. Zero values select the defaults and a
// nil clock uses time.Now.
func NewBuffer(maxWords int, window time.Duration, now func() time.Time) *Buffer {
	if maxWords <= 0 {
		maxWords = DefaultMaxWords
	}
	if window <= 0 {
		window = DefaultTypingWindow
	}
	if now == nil {
		now = time.Now
	}
	return &Buffer{
		words:    make([]string, 0, maxWords),
		maxWords: maxWords,
		window:   window,
		now:      now,
	}
}

// Append adds token unless it is blank or equal to the current last word.
// The oldest words are evicted beyond the word limit. It reports whether
// the caption changed.
func (b *Buffer) Append(token string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}
	if n := len(b.words); n > 0 && b.words[n-1] == token {
		return false
	}

	b.words = append(b.words, token)
	if over := len(b.words) - b.maxWords; over > 0 {
		b.words = append(b.words[:0], b.words[over:]...)
	}
	b.lastUpdate = b.now()
	return true
}

// Clear empties the caption and resets the typing indicator.
func (b *Buffer) Clear() {
	b.words = b.words[:0]
	b.lastUpdate = time.Time{}
}

// Text is the caption as displayed: words joined by single spaces.
func (b *Buffer) Text() string {
	return strings.Join(b.words, " ")
}

// Words returns a copy of the caption words, oldest first.
func (b *Buffer) Words() []string {
	out := make([]string, len(b.words))
	copy(out, b.words)
	return out
}

// LastUpdate is the time of the last accepted token, zero when none.
func (b *Buffer) LastUpdate() time.Time {
	return b.lastUpdate
}

// IsRecentlyUpdated reports whether a token was accepted within the typing
// window.
func (b *Buffer) IsRecentlyUpdated() bool {
	if b.lastUpdate.IsZero() {
		return false
	}
	return b.now().Sub(b.lastUpdate) < b.window
}
