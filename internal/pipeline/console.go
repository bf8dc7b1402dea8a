package pipeline

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"unicode/utf8"
)

// TimestampLayout is the console timestamp format, e.g. 2024-05-01-13-04-59.
const TimestampLayout = "2006-01-02-15-04-05"

// ConsoleSink prints utterances as "[timestamp]: text".
// Partials rewrite the current line; finals end it.
type ConsoleSink struct {
	w            io.Writer
	showPartials bool

	mu      sync.Mutex
	lastLen int
}

// NewConsoleSink creates a console sink writing to w.
func NewConsoleSink(w io.Writer, showPartials bool) *ConsoleSink {
	return &ConsoleSink{w: w, showPartials: showPartials}
}

// Emit writes one line for u.
func (c *ConsoleSink) Emit(u Utterance) error {
	if u.Kind == KindPartial && !c.showPartials {
		return nil
	}

	line := fmt.Sprintf("[%s]: %s", u.EmittedAt.Format(TimestampLayout), u.Text)

	c.mu.Lock()
	defer c.mu.Unlock()

	n := utf8.RuneCountInString(line)
	pad := ""
	if c.lastLen > n {
		pad = strings.Repeat(" ", c.lastLen-n)
	}

	var err error
	if u.Kind == KindFinal {
		_, err = fmt.Fprintf(c.w, "\r%s%s\n", line, pad)
		c.lastLen = 0
	} else {
		_, err = fmt.Fprintf(c.w, "\r%s%s", line, pad)
		c.lastLen = n
	}
	if err != nil {
		return fmt.Errorf("failed to write utterance to console: %w", err)
	}
	return nil
}
