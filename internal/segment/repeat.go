package segment

import "sync"

// RepeatDetector counts consecutive identical recognition outputs.
type RepeatDetector struct {
	lastText string
	count    int

	mu sync.Mutex
}

// NewRepeatDetector creates an empty detector.
func NewRepeatDetector() *RepeatDetector {
	return &RepeatDetector{}
}

// Observe records text and returns how many consecutive times it has been seen.
// A new non-empty text starts at 1; an empty text resets the detector and returns 0.
func (d *RepeatDetector) Observe(text string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if text == "" {
		d.lastText = ""
		d.count = 0
		return 0
	}

	if text == d.lastText {
		d.count++
	} else {
		d.lastText = text
		d.count = 1
	}
	return d.count
}

// Reset forgets the last text. Called on every utterance closure.
func (d *RepeatDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastText = ""
	d.count = 0
}

// Count returns the current consecutive count.
func (d *RepeatDetector) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}

// Last returns the last observed text.
func (d *RepeatDetector) Last() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastText
}
