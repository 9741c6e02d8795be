package load

// Sample is one recorded metric observation. Immutable once appended.
type Sample struct {
	Value     float64           `json:"value"`
	Timestamp float64           `json:"timestamp"`
	Tags      map[string]string `json:"tags,omitempty"`
}

// series is a fixed-capacity ring of samples, oldest evicted first.
type series struct {
	buf  []Sample
	head int
	n    int
}

func newSeries(capacity int) *series {
	if capacity < 1 {
		capacity = 1
	}
	return &series{buf: make([]Sample, capacity)}
}

func (s *series) append(smp Sample) {
	if s.n < len(s.buf) {
		s.buf[(s.head+s.n)%len(s.buf)] = smp
		s.n++
		return
	}
	s.buf[s.head] = smp
	s.head = (s.head + 1) % len(s.buf)
}

func (s *series) len() int { return s.n }

func (s *series) cap() int { return len(s.buf) }

// last returns the newest sample, if any.
func (s *series) last() (Sample, bool) {
	if s.n == 0 {
		return Sample{}, false
	}
	return s.buf[(s.head+s.n-1)%len(s.buf)], true
}

// samples returns the retained samples, oldest first.
func (s *series) samples() []Sample {
	out := make([]Sample, 0, s.n)
	for i := 0; i < s.n; i++ {
		out = append(out, s.buf[(s.head+i)%len(s.buf)])
	}
	return out
}

// tail returns up to n of the newest values, oldest first.
func (s *series) tail(n int) []float64 {
	if n > s.n {
		n = s.n
	}
	out := make([]float64, 0, n)
	for i := s.n - n; i < s.n; i++ {
		out = append(out, s.buf[(s.head+i)%len(s.buf)].Value)
	}
	return out
}

// values returns every retained value, oldest first.
func (s *series) values() []float64 {
	return s.tail(s.n)
}
