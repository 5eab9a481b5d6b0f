package spike

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueuePopsNonDecreasingTimes(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	q := NewQueue()
	for i := 0; i < 500; i++ {
		q.Push(Spike{ID: i % 5, Time: rng.Intn(60), Value: 1})
	}
	require.Equal(t, 500, q.Len())
	last := -1
	for q.Len() > 0 {
		s, ok := q.Pop()
		require.True(t, ok)
		require.GreaterOrEqual(t, s.Time, last)
		last = s.Time
	}
	_, ok := q.Pop()
	assert.False(t, ok)
}

func TestQueueTiesPopInInsertionOrder(t *testing.T) {
	q := NewQueue(
		Spike{ID: 0, Time: 3},
		Spike{ID: 1, Time: 1},
		Spike{ID: 2, Time: 3},
		Spike{ID: 3, Time: 1},
		Spike{ID: 4, Time: 3},
	)
	var ids []int
	for q.Len() > 0 {
		s, _ := q.Pop()
		ids = append(ids, s.ID)
	}
	assert.Equal(t, []int{1, 3, 0, 2, 4}, ids)
}

func TestQueuePeekAndPopDue(t *testing.T) {
	q := NewQueue()
	_, ok := q.Peek()
	assert.False(t, ok)

	q.Merge(Spike{ID: 0, Time: 5}, Spike{ID: 1, Time: 2}, Spike{ID: 2, Time: 2}, Spike{ID: 3, Time: 9})
	s, ok := q.Peek()
	require.True(t, ok)
	assert.Equal(t, 2, s.Time)
	assert.Equal(t, 4, q.Len())

	due := q.PopDue(2)
	assert.Equal(t, []Spike{{ID: 1, Time: 2}, {ID: 2, Time: 2}}, due)
	assert.Empty(t, q.PopDue(4))
	assert.Len(t, q.PopDue(100), 2)
	assert.Equal(t, 0, q.Len())
}
