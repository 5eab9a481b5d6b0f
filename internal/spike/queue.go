package spike

type entry struct {
	spike Spike
	seq   uint64
}

// Queue is a binary min-heap of spikes keyed by time. Spikes with equal
// times pop in insertion order. A Queue is not safe for concurrent use.
type Queue struct {
	heap []entry
	seq  uint64
}

func NewQueue(spikes ...Spike) *Queue {
	q := &Queue{}
	q.Merge(spikes...)
	return q
}

func (q *Queue) Len() int { return len(q.heap) }

// Push inserts s in O(log n).
func (q *Queue) Push(s Spike) {
	q.heap = append(q.heap, entry{spike: s, seq: q.seq})
	q.seq++
	q.up(len(q.heap) - 1)
}

// Merge inserts every spike.
func (q *Queue) Merge(spikes ...Spike) {
	for _, s := range spikes {
		q.Push(s)
	}
}

// Peek returns the earliest spike without removing it.
func (q *Queue) Peek() (Spike, bool) {
	if len(q.heap) == 0 {
		return Spike{}, false
	}
	return q.heap[0].spike, true
}

// Pop removes and returns the earliest spike in O(log n).
func (q *Queue) Pop() (Spike, bool) {
	n := len(q.heap)
	if n == 0 {
		return Spike{}, false
	}
	top := q.heap[0].spike
	q.heap[0] = q.heap[n-1]
	q.heap = q.heap[:n-1]
	if len(q.heap) > 0 {
		q.down(0)
	}
	return top, true
}

// PopDue removes and returns every spike with Time <= t, earliest first.
func (q *Queue) PopDue(t int) []Spike {
	var out []Spike
	for {
		s, ok := q.Peek()
		if !ok || s.Time > t {
			return out
		}
		q.Pop()
		out = append(out, s)
	}
}

func (q *Queue) less(i, j int) bool {
	a, b := q.heap[i], q.heap[j]
	if a.spike.Time != b.spike.Time {
		return a.spike.Before(b.spike)
	}
	return a.seq < b.seq
}

func (q *Queue) up(i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if !q.less(i, parent) {
			return
		}
		q.heap[i], q.heap[parent] = q.heap[parent], q.heap[i]
		i = parent
	}
}

func (q *Queue) down(i int) {
	n := len(q.heap)
	for {
		smallest := i
		if l := 2*i + 1; l < n && q.less(l, smallest) {
			smallest = l
		}
		if r := 2*i + 2; r < n && q.less(r, smallest) {
			smallest = r
		}
		if smallest == i {
			return
		}
		q.heap[i], q.heap[smallest] = q.heap[smallest], q.heap[i]
		i = smallest
	}
}
