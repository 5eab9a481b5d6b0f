package processor

import (
	"math"
	"sync/atomic"

	"github.com/danmuck/spikelink/internal/spike"
	"github.com/google/uuid"
)

// noRun marks a session that has not run since its last clear. Every record
// is older than it, so queries come back empty.
const noRun = math.MaxInt64

// session is the activity between two clears.
type session struct {
	id string
	// in is written by tx only; out by rx only. Both are read across
	// goroutines for backpressure and status.
	in  atomic.Int64
	out atomic.Int64

	queue   *spike.Queue
	lastRun int64
	// fires[i] holds absolute fire times of output i, appended by rx.
	fires [][]int64
}

func newSession(numOutputs int) *session {
	return &session{
		id:      uuid.NewString(),
		queue:   spike.NewQueue(),
		lastRun: noRun,
		fires:   make([][]int64, numOutputs),
	}
}

// lag is how many cycles tx is ahead of rx.
func (s *session) lag() int64 { return s.in.Load() - s.out.Load() }

// since returns the fires of output i at or after the last run, relative to
// its start.
func (s *session) since(i int) []int {
	var out []int
	for _, t := range s.fires[i] {
		if t >= s.lastRun {
			out = append(out, int(t-s.lastRun))
		}
	}
	return out
}
