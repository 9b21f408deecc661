package l3grid

// IDSource hands out particle ids. Ids start at 1 and are never reused
// within a run. It is not safe for concurrent use.
type IDSource struct {
	last uint64
}

// NewIDSource returns a source whose next id is after+1.
func NewIDSource(after uint64) *IDSource {
	return &IDSource{last: after}
}

// Next returns a fresh id.
func (s *IDSource) Next() uint64 {
	s.last++
	return s.last
}

// Last returns the most recently issued id, or the starting point.
func (s *IDSource) Last() uint64 {
	return s.last
}
