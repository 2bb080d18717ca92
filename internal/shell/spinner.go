package shell

import (
	"fmt"
	"io"
	"sync"
	"time"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

const spinnerInterval = 100 * time.Millisecond

// Spinner animates a one-line "Thinking..." status on out. Start and Stop may
// be called from different goroutines; Stop waits for the animation to end.
type Spinner struct {
	out     io.Writer
	animate bool

	mu     sync.Mutex
	label  string
	active bool
	frame  int
	stop   chan struct{}
	done   chan struct{}
}

// NewSpinner draws frames only when animate is set; otherwise Start prints
// the label once.
func NewSpinner(out io.Writer, animate bool) *Spinner {
	return &Spinner{out: out, animate: animate, label: "Thinking..."}
}

func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.active = true
	s.frame = 0
	if !s.animate {
		fmt.Fprintln(s.out, s.label)
		return
	}
	s.drawLocked()
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
}

func (s *Spinner) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(spinnerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			s.frame++
			s.drawLocked()
			s.mu.Unlock()
		}
	}
}

func (s *Spinner) drawLocked() {
	fmt.Fprintf(s.out, "\r\033[K%s %s", spinnerFrames[s.frame%len(spinnerFrames)], s.label)
}

// SetLabel changes the status text, e.g. to show which help page is being read.
func (s *Spinner) SetLabel(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.label = label
	if s.active && !s.animate {
		fmt.Fprintln(s.out, label)
	}
}

func (s *Spinner) Stop() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.label = "Thinking..."
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	s.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	fmt.Fprint(s.out, "\r\033[K") // clear spinner line
}
