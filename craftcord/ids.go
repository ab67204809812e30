package craftcord

import (
	"github.com/oklog/ulid/v2"
	"math/rand"
	"sync"
	"time"
)

var (
	ulidEntropy   = ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)
	ulidEntropyMu sync.Mutex
)

// newID returns a new lexically sortable ID, used for spawns, media
// and stronghold runs
func newID() string {
	ulidEntropyMu.Lock()
	defer ulidEntropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulidEntropy).String()
}

// lockedRand is a math/rand source safe for concurrent use. Gameplay
// draws from it so tests can seed it.
type lockedRand struct {
	mu sync.Mutex
	r  *rand.Rand
}

func newLockedRand(seed int64) *lockedRand {
	return &lockedRand{r: rand.New(rand.NewSource(seed))}
}

// Intn returns a value in [0, n)
func (l *lockedRand) Intn(n int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.r.Intn(n)
}

// Between returns a value in [lo, hi]
func (l *lockedRand) Between(lo, hi int64) int64 {
	if hi <= lo {
		return lo
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return lo + l.r.Int63n(hi-lo+1)
}

// Duration returns a duration in [lo, hi]
func (l *lockedRand) Duration(lo, hi time.Duration) time.Duration {
	return time.Duration(l.Between(int64(lo), int64(hi)))
}

// Weighted returns an index into weights, chosen proportionally
func (l *lockedRand) Weighted(weights []int) int {
	total := 0
	for _, w := range weights {
		total += w
	}
	if total <= 0 {
		return 0
	}
	n := l.Intn(total)
	for i, w := range weights {
		if n < w {
			return i
		}
		n -= w
	}
	return len(weights) - 1
}

// OneIn reports true with probability 1/n
func (l *lockedRand) OneIn(n int) bool {
	if n <= 1 {
		return true
	}
	return l.Intn(n) == 0
}
