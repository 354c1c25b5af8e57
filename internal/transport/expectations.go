package transport

import (
	"sync"

	"github.com/peek-labs/peek/internal/textmatch"
)

// expectations remembers the text the user expects the current cycle's OCR to find
type expectations struct {
	mu    sync.Mutex
	cycle uint64
	text  string
	opts  textmatch.Options
}

func (e *expectations) set(cycle uint64, text string, ignoreCase bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cycle = cycle
	e.text = text
	e.opts = textmatch.Options{IgnoreCase: ignoreCase}
}

func (e *expectations) clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cycle = 0
	e.text = ""
	e.opts = textmatch.Options{}
}

// forCycle returns the expected text recorded for cycle, if any
func (e *expectations) forCycle(cycle uint64) (string, textmatch.Options, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.text == "" || e.cycle != cycle {
		return "", textmatch.Options{}, false
	}
	return e.text, e.opts, true
}
