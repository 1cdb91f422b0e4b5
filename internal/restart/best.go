package restart

import (
	"sync"

	"towerplan/internal/coverage"
)

// Best is the one slot restarts share. Offers are ordered by the policy and,
// on equal scores, by canonical tower order, so the final content does not
// depend on the order offers arrive in.
type Best struct {
	mu      sync.Mutex
	policy  Policy
	sol     coverage.Solution
	score   Score
	restart int
	ok      bool
}

func NewBest(p Policy) *Best {
	if p == nil {
		p = Lexicographic{}
	}
	return &Best{policy: p}
}

// Offer stores sol if it beats the current entry and reports whether it did.
func (b *Best) Offer(restart int, sol coverage.Solution, s Score) bool {
	canon := sol.Sorted()
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ok {
		if b.policy.Less(b.score, s) {
			return false
		}
		if !b.policy.Less(s, b.score) && coverage.CompareCanonical(canon, b.sol) >= 0 {
			return false
		}
	}
	b.sol, b.score, b.restart, b.ok = canon, s, restart, true
	return true
}

// Get returns a copy of the stored solution.
func (b *Best) Get() (coverage.Solution, Score, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sol.Clone(), b.score, b.ok
}

// Restart is the index of the restart that produced the stored solution.
func (b *Best) Restart() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.restart
}
