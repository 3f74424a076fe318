// Package stats aggregates pipeline outcomes for the status endpoint.
package stats

import (
	"sync"
	"time"
)

const DefaultHistorySize = 100

type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeNoFace
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNoFace:
		return "no_face"
	default:
		return "error"
	}
}

type Snapshot struct {
	Total       int64         `json:"total_processed"`
	Success     int64         `json:"successful"`
	NoFace      int64         `json:"no_face_detected"`
	Errors      int64         `json:"errors"`
	SuccessRate float64       `json:"success_rate"` // fraction in [0, 1]
	AverageTime time.Duration `json:"-"`
	Samples     int           `json:"recent_samples"`
}

// AverageMillis is the rolling average over the recent history.
func (s Snapshot) AverageMillis() float64 {
	return float64(s.AverageTime) / float64(time.Millisecond)
}

type Collector interface {
	Record(outcome Outcome, d time.Duration)
	Snapshot() Snapshot
	// Reset clears all counters and returns what they held.
	Reset() Snapshot
}

// Memory keeps counters and a ring of the most recent durations.
type Memory struct {
	mu      sync.Mutex
	success int64
	noFace  int64
	errors  int64
	ring    []time.Duration
	next    int
	filled  int
}

func NewMemory(historySize int) *Memory {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Memory{
		ring: make([]time.Duration, historySize),
	}
}

func (m *Memory) Record(outcome Outcome, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch outcome {
	case OutcomeSuccess:
		m.success++
	case OutcomeNoFace:
		m.noFace++
	default:
		m.errors++
	}

	m.ring[m.next] = d
	m.next = (m.next + 1) % len(m.ring)
	if m.filled < len(m.ring) {
		m.filled++
	}
}

func (m *Memory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot()
}

func (m *Memory) snapshot() Snapshot {
	s := Snapshot{
		Success: m.success,
		NoFace:  m.noFace,
		Errors:  m.errors,
		Total:   m.success + m.noFace + m.errors,
		Samples: m.filled,
	}
	if s.Total > 0 {
		s.SuccessRate = float64(s.Success) / float64(s.Total)
	}
	if m.filled > 0 {
		var sum time.Duration
		for i := 0; i < m.filled; i++ {
			sum += m.ring[i]
		}
		s.AverageTime = sum / time.Duration(m.filled)
	}
	return s
}

func (m *Memory) Reset() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.snapshot()
	m.success, m.noFace, m.errors = 0, 0, 0
	m.next, m.filled = 0, 0
	clear(m.ring)
	return s
}
