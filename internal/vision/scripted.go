package vision

import (
	"sync"

	"siegebot/internal/device"
)

// Scripted is a programmable Matcher. Tests and dry-run mode preload the
// matches and texts it should report; production builds swap in a real
// template-matching backend behind the same interface.
type Scripted struct {
	mu      sync.Mutex
	matches map[string]Match
	texts   map[Region]string
}

// NewScripted returns an empty scripted matcher that finds nothing.
func NewScripted() *Scripted {
	return &Scripted{
		matches: make(map[string]Match),
		texts:   make(map[Region]string),
	}
}

// Show makes the template visible at the given position from now on.
func (s *Scripted) Show(templateID string, m Match) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.matches[templateID] = m
}

// Hide removes a template from the visible set.
func (s *Scripted) Hide(templateID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.matches, templateID)
}

// SetText sets the OCR result for a region.
func (s *Scripted) SetText(region Region, text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.texts[region] = text
}

func (s *Scripted) Locate(_ *device.Frame, templateID string, minConfidence float64) (Match, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.matches[templateID]
	if !ok || m.Confidence < minConfidence {
		return Match{}, false
	}
	return m, true
}

func (s *Scripted) ReadText(_ *device.Frame, region Region) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.texts[region], nil
}
