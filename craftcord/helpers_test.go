package craftcord

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
	"time"
)

func TestPasswordHash(t *testing.T) {
	hashed, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.Contains(t, hashed, "$argon2id$v=19$")

	ok, err := VerifyPassword(hashed, "correct horse")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword(hashed, "battery staple")
	require.NoError(t, err)
	assert.False(t, ok)

	again, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotEqual(t, hashed, again, "salted")

	_, err = VerifyPassword("plaintext", "plaintext")
	assert.Error(t, err)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "tenletters", truncate("tenletters", 10))
	assert.Equal(t, "diamo", truncate("diamonds", 5))
	assert.Equal(t, "🐄🐖", truncate("🐄🐖🐑", 2))
}

func TestChunkItems(t *testing.T) {
	assert.Nil(t, chunkItems[int](5))
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunkItems(2, 1, 2, 3, 4, 5))
	assert.Equal(t, [][]string{{"a", "b"}}, chunkItems(5, "a", "b"))
}

func TestFormatDuration(t *testing.T) {
	testCases := []struct {
		input    time.Duration
		expected string
	}{
		{0, "1s"},
		{400 * time.Millisecond, "1s"},
		{42 * time.Second, "42s"},
		{65 * time.Second, "1m05s"},
		{59*time.Minute + 59*time.Second, "59m59s"},
		{2*time.Hour + 3*time.Minute, "2h03m"},
	}
	for _, tc := range testCases {
		assert.Equalf(t, tc.expected, formatDuration(tc.input), "input: %s", tc.input)
	}
}

func TestNormalizeName(t *testing.T) {
	assert.Equal(t, "snowfox", normalizeName("  Snow  Fox "))
	assert.Equal(t, normalizeName("snowfox"), normalizeName("SNOW FOX"))
	assert.Equal(t, "", normalizeName("   "))
}

func TestStructToSlogValue(t *testing.T) {
	type inner struct {
		Name string `json:"name"`
	}
	type sample struct {
		Token  string   `json:"token" log:"[redacted]"`
		Guild  string   `json:"guild_id,omitempty"`
		Empty  string   `json:"empty"`
		Hidden string   `json:"-"`
		Tags   []string `json:"tags"`
		Inner  *inner   `json:"inner"`
	}

	v := structToSlogValue(
		&sample{
			Token:  "secret",
			Guild:  testGuildID,
			Hidden: "shown by field name",
			Inner:  &inner{Name: "steve"},
		},
	)
	require.Equal(t, slog.KindGroup, v.Kind())

	attrs := map[string]slog.Value{}
	for _, a := range v.Group() {
		attrs[a.Key] = a.Value
	}
	assert.Equal(t, "[redacted]", attrs["token"].String())
	assert.Equal(t, testGuildID, attrs["guild_id"].String())
	assert.Equal(t, "shown by field name", attrs["Hidden"].String())
	assert.NotContains(t, attrs, "empty")
	assert.NotContains(t, attrs, "tags")
	require.Contains(t, attrs, "inner")
	assert.Equal(t, slog.KindGroup, attrs["inner"].Kind())

	assert.Equal(t, slog.AnyValue(nil), structToSlogValue((*sample)(nil)))
	assert.Equal(t, int64(3), structToSlogValue(3).Int64())
}

func TestContextLogger(t *testing.T) {
	_, ok := ContextLogger(context.Background())
	assert.False(t, ok)

	logger := slog.Default().With("k", "v")
	got, ok := ContextLogger(WithLogger(context.Background(), logger))
	require.True(t, ok)
	assert.Same(t, logger, got)

	got, ok = ContextLogger(WithLogger(context.Background(), nil))
	require.True(t, ok)
	assert.Same(t, slog.Default(), got)
}
