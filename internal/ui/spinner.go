package ui

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// Spinner animates a one-line status on w until stopped. Output written
// while it runs must go through Pause so lines do not interleave.
type Spinner struct {
	w        io.Writer
	message  string
	interval time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started time.Time
}

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// NewSpinner creates a stopped spinner writing to w.
func NewSpinner(w io.Writer, message string) *Spinner {
	return &Spinner{w: w, message: message, interval: 80 * time.Millisecond}
}

// Start begins the animation. It is a no-op while running.
func (s *Spinner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return
	}
	if s.started.IsZero() {
		s.started = time.Now()
	}
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	go s.spin(s.stopCh, s.doneCh)
}

func (s *Spinner) spin(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for i := 0; ; i++ {
		select {
		case <-stop:
			fmt.Fprint(s.w, "\r"+strings.Repeat(" ", panelWidth)+"\r")
			return
		case <-ticker.C:
			s.mu.Lock()
			line := fmt.Sprintf("\r%s %s (%ds)   ", Color(Cyan, spinnerFrames[i%len(spinnerFrames)]), s.message, int(time.Since(s.started).Seconds()))
			s.mu.Unlock()
			fmt.Fprint(s.w, line)
		}
	}
}

// Stop halts the animation and clears its line.
func (s *Spinner) Stop() {
	s.mu.Lock()
	stop, done := s.stopCh, s.doneCh
	s.stopCh, s.doneCh = nil, nil
	s.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}

// Pause stops the animation, runs fn and resumes.
func (s *Spinner) Pause(fn func()) {
	running := s.IsRunning()
	s.Stop()
	fn()
	if running {
		s.Start()
	}
}

// SetMessage updates the text shown next to the animation.
func (s *Spinner) SetMessage(msg string) {
	s.mu.Lock()
	s.message = msg
	s.mu.Unlock()
}

// IsRunning reports whether the animation is active.
func (s *Spinner) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh != nil
}
