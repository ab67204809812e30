package craftcord

import (
	"bytes"
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"image/png"
	"strings"
	"testing"
	"time"
)

func TestRevealedCount(t *testing.T) {
	tests := []struct {
		total, frame, frames int
		expected             int
	}{
		{64, 0, 4, 0},
		{64, 1, 4, 21},
		{64, 2, 4, 42},
		{64, 3, 4, 64},
		{64, 9, 4, 64},
		{64, 0, 1, 64},
		{5, 1, 3, 2},
	}
	for _, tc := range tests {
		assert.Equalf(
			t,
			tc.expected,
			revealedCount(tc.total, tc.frame, tc.frames),
			"revealedCount(%d, %d, %d)", tc.total, tc.frame, tc.frames,
		)
	}
}

func TestNameHint(t *testing.T) {
	assert.Equal(t, "_ _ _", nameHint("Cow", 0, 4))
	assert.Equal(t, "_ _ _ _    _ _ _", nameHint("Snow Fox", 0, 4))

	final := nameHint("Elder Guardian", 3, 4)
	shown := 0
	for _, r := range final {
		if r != '_' && r != ' ' {
			shown++
		}
	}
	assert.Equal(t, len("ElderGuardian")/2, shown)

	assert.Equal(t, final, nameHint("Elder Guardian", 3, 4), "hints are stable for a name")
}

func TestRenderRevealFrame(t *testing.T) {
	cow := mustCreature(t, "Cow")

	first, err := renderRevealFrame(cow, false, 0, 4)
	require.NoError(t, err)
	last, err := renderRevealFrame(cow, false, 3, 4)
	require.NoError(t, err)
	golden, err := renderRevealFrame(cow, true, 3, 4)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(last))
	require.NoError(t, err)
	assert.Equal(t, glyphSize*glyphTilePx, img.Bounds().Dx())
	assert.Equal(t, glyphSize*glyphTilePx, img.Bounds().Dy())

	assert.NotEqual(t, first, last)
	assert.NotEqual(t, last, golden)

	sheep, err := renderRevealFrame(mustCreature(t, "Sheep"), false, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, first, sheep, "nothing is shown on the first frame")
}

func TestMediaStore(t *testing.T) {
	c, _ := newTestCraftCord(t)
	ctx := context.Background()

	id, err := c.storeMedia(ctx, []byte("png-bytes"), mimeTypePNG)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(c.mediaURL(id), "/media/"+id+".png"))

	blob, err := c.loadMedia(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("png-bytes"), blob.Data)
	assert.Equal(t, mimeTypePNG, blob.MimeType)

	n, err := c.purgeMedia(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = c.purgeMedia(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = c.loadMedia(ctx, id)
	assert.Error(t, err)
}
