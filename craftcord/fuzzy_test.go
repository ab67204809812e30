package craftcord

import (
	"github.com/stretchr/testify/assert"
	"testing"
)

func TestClosestMatch(t *testing.T) {
	names := creatureNames()

	m, ok := closestMatch("zombi", names)
	assert.True(t, ok)
	assert.Equal(t, "Zombie", m)

	m, ok = closestMatch("snowfox", names)
	assert.True(t, ok)
	assert.Equal(t, "Snow Fox", m)

	m, ok = closestMatch("polar  bare", names)
	assert.True(t, ok)
	assert.Equal(t, "Polar Bear", m)

	_, ok = closestMatch("xyzzy", names)
	assert.False(t, ok)

	_, ok = closestMatch("   ", names)
	assert.False(t, ok)
}

func TestDidYouMean(t *testing.T) {
	assert.Equal(t, " Did you mean **pickaxe**?", didYouMean("pikaxe", toolNames()))
	assert.Equal(t, "", didYouMean("trebuchet", toolNames()))
}
