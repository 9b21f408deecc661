package transform

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrNoTransform is returned when a lookup cannot be satisfied.
var ErrNoTransform = errors.New("transform unavailable")

// Stamped is a pose valid at a point in time.
type Stamped struct {
	Pose  Pose
	Stamp time.Time
}

type framePair struct{ target, source string }

// Static serves fixed transforms regardless of time.
type Static struct {
	poses map[framePair]Pose
}

// NewStatic returns an empty static source.
func NewStatic() *Static {
	return &Static{poses: make(map[framePair]Pose)}
}

// Set registers the pose mapping source into target.
func (s *Static) Set(target, source string, p Pose) {
	s.poses[framePair{target, source}] = p
}

// Lookup returns the registered pose, or its inverse if only the reverse pair exists.
func (s *Static) Lookup(target, source string, _ time.Time) (Pose, error) {
	if target == source {
		return Identity(), nil
	}
	if p, ok := s.poses[framePair{target, source}]; ok {
		return p, nil
	}
	if p, ok := s.poses[framePair{source, target}]; ok {
		return p.Inverse(), nil
	}
	return Pose{}, fmt.Errorf("%w: %s <- %s", ErrNoTransform, target, source)
}

// Buffer keeps a bounded, time-ordered history of one frame pair and answers
// lookups with the newest pose not later than the query time, provided it is
// within Tolerance of it.
type Buffer struct {
	Target    string
	Source    string
	Tolerance time.Duration

	mu      sync.RWMutex
	history []Stamped
	max     int
}

// NewBuffer creates a history buffer holding at most capacity entries.
func NewBuffer(target, source string, capacity int, tolerance time.Duration) *Buffer {
	if capacity < 1 {
		capacity = 1
	}
	return &Buffer{Target: target, Source: source, Tolerance: tolerance, max: capacity}
}

// Push records a pose. Out-of-order stamps are inserted in place.
func (b *Buffer) Push(s Stamped) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := sort.Search(len(b.history), func(i int) bool { return b.history[i].Stamp.After(s.Stamp) })
	b.history = append(b.history, Stamped{})
	copy(b.history[i+1:], b.history[i:])
	b.history[i] = s
	if len(b.history) > b.max {
		b.history = b.history[len(b.history)-b.max:]
	}
}

// Len returns the number of buffered poses.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.history)
}

// Lookup implements the engine's transform source.
func (b *Buffer) Lookup(target, source string, at time.Time) (Pose, error) {
	inverse := false
	switch {
	case target == b.Target && source == b.Source:
	case target == b.Source && source == b.Target:
		inverse = true
	default:
		return Pose{}, fmt.Errorf("%w: %s <- %s not buffered", ErrNoTransform, target, source)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	i := sort.Search(len(b.history), func(i int) bool { return b.history[i].Stamp.After(at) })
	if i == 0 {
		return Pose{}, fmt.Errorf("%w: no pose at or before %s", ErrNoTransform, at.Format(time.RFC3339Nano))
	}
	s := b.history[i-1]
	if b.Tolerance > 0 && at.Sub(s.Stamp) > b.Tolerance {
		return Pose{}, fmt.Errorf("%w: newest pose is %s old", ErrNoTransform, at.Sub(s.Stamp))
	}
	if inverse {
		return s.Pose.Inverse(), nil
	}
	return s.Pose, nil
}
