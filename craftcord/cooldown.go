package craftcord

import (
	"sort"
	"sync"
	"time"
)

// commandCooldowns maps each cooldown-gated command to its period
func commandCooldowns(game *GameConfig) map[string]time.Duration {
	return map[string]time.Duration{
		"chop":       game.GatherCooldown,
		"mine":       game.GatherCooldown,
		"farm":       game.GatherCooldown,
		"fish":       game.GatherCooldown,
		"breed":      game.BreedCooldown,
		"stronghold": game.StrongholdCooldown,
	}
}

type cooldownKey struct {
	UserID string
	Action string
}

// cooldowns tracks when each user last used each cooldown-gated action.
// Cooldowns are process-local and reset on restart.
type cooldowns struct {
	mu       sync.Mutex
	lastUsed map[cooldownKey]time.Time
	periods  map[string]time.Duration
	now      func() time.Time
}

func newCooldowns(periods map[string]time.Duration) *cooldowns {
	return &cooldowns{
		lastUsed: map[cooldownKey]time.Time{},
		periods:  periods,
		now:      time.Now,
	}
}

// Gated reports whether action has a cooldown
func (c *cooldowns) Gated(action string) bool {
	return c.periods[action] > 0
}

// Actions lists the cooldown-gated actions, sorted
func (c *cooldowns) Actions() []string {
	actions := make([]string, 0, len(c.periods))
	for action, period := range c.periods {
		if period > 0 {
			actions = append(actions, action)
		}
	}
	sort.Strings(actions)
	return actions
}

// remaining returns how long until userID may use action again. Must
// hold mu.
func (c *cooldowns) remaining(key cooldownKey) time.Duration {
	last, ok := c.lastUsed[key]
	if !ok {
		return 0
	}
	left := c.periods[key.Action] - c.now().Sub(last)
	if left < 0 {
		return 0
	}
	return left
}

// Check returns the time left on the cooldown, without using it
func (c *cooldowns) Check(userID, action string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining(cooldownKey{userID, action})
}

// Use starts the cooldown if it isn't active. If it is, the time left is
// returned and ok is false.
func (c *cooldowns) Use(userID, action string) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cooldownKey{userID, action}
	if left := c.remaining(key); left > 0 {
		return left, false
	}
	c.lastUsed[key] = c.now()
	return 0, true
}

// Reset refunds the cooldown, for actions that were rejected after
// it was started
func (c *cooldowns) Reset(userID, action string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lastUsed, cooldownKey{userID, action})
}

// Prune forgets expired cooldowns
func (c *cooldowns) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	pruned := 0
	for key := range c.lastUsed {
		if c.remaining(key) == 0 {
			delete(c.lastUsed, key)
			pruned++
		}
	}
	return pruned
}
