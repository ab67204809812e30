package craftcord

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"strings"
	"time"
)

const (
	glyphSize     = 8
	glyphTilePx   = 16
	mimeTypePNG   = "image/png"
	hiddenLetter  = '_'
	hiddenTileRGB = 0x36393F
	emptyTileRGB  = 0xF2F3F5
)

// MediaBlob is a generated image served from /media/:id, so it can be
// embedded in messages by URL
type MediaBlob struct {
	ID        string `gorm:"primaryKey" json:"id"`
	MimeType  string `gorm:"not null" json:"mime_type"`
	Data      []byte `gorm:"not null" json:"-"`
	CreatedAt int64  `gorm:"autoCreateTime:milli;index" json:"created_at"`
}

func (MediaBlob) TableName() string {
	return "media"
}

func nameSeed(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(normalizeName(name)))
	return int64(h.Sum64())
}

// glyph is a horizontally symmetric 8x8 pattern derived from a name
type glyph [glyphSize][glyphSize]bool

func newGlyph(name string) glyph {
	var g glyph
	r := rand.New(rand.NewSource(nameSeed(name)))
	filled := 0
	for y := 0; y < glyphSize; y++ {
		for x := 0; x < glyphSize/2; x++ {
			if r.Intn(2) == 0 {
				continue
			}
			g[y][x] = true
			g[y][glyphSize-1-x] = true
			filled += 2
		}
	}
	if filled == 0 {
		g[glyphSize/2][glyphSize/2-1] = true
		g[glyphSize/2][glyphSize/2] = true
	}
	return g
}

// revealOrder is the order tiles are uncovered in, fixed per name
func revealOrder(name string) []int {
	r := rand.New(rand.NewSource(nameSeed(name) ^ 0x5DEECE66D))
	return r.Perm(glyphSize * glyphSize)
}

// revealedCount is how many of total units are uncovered at frame, out
// of frames. The first frame shows nothing and the last shows all.
func revealedCount(total, frame, frames int) int {
	if frames <= 1 || frame >= frames-1 {
		return total
	}
	if frame <= 0 {
		return 0
	}
	return total * frame / (frames - 1)
}

func rgb(v int) color.RGBA {
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xFF}
}

// renderRevealFrame draws frame (0-based) of a frames-long reveal of
// the creature as a PNG
func renderRevealFrame(c Creature, golden bool, frame, frames int) ([]byte, error) {
	g := newGlyph(c.Name)
	shown := make([]bool, glyphSize*glyphSize)
	order := revealOrder(c.Name)
	for _, tile := range order[:revealedCount(len(order), frame, frames)] {
		shown[tile] = true
	}

	fg := rgb(c.RarityInfo().Color)
	if golden {
		fg = rgb(goldenColor)
	}
	hidden, empty := rgb(hiddenTileRGB), rgb(emptyTileRGB)

	px := glyphSize * glyphTilePx
	img := image.NewRGBA(image.Rect(0, 0, px, px))
	for ty := 0; ty < glyphSize; ty++ {
		for tx := 0; tx < glyphSize; tx++ {
			fill := hidden
			if shown[ty*glyphSize+tx] {
				fill = empty
				if g[ty][tx] {
					fill = fg
				}
			}
			for y := ty * glyphTilePx; y < (ty+1)*glyphTilePx; y++ {
				for x := tx * glyphTilePx; x < (tx+1)*glyphTilePx; x++ {
					img.SetRGBA(x, y, fill)
				}
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("error encoding frame: %w", err)
	}
	return buf.Bytes(), nil
}

// nameHint shows the creature's name with letters hidden, uncovering up
// to half of them by the last frame. Spaces are always shown.
func nameHint(name string, frame, frames int) string {
	runes := []rune(name)
	var letters []int
	for i, r := range runes {
		if r != ' ' {
			letters = append(letters, i)
		}
	}
	r := rand.New(rand.NewSource(nameSeed(name)))
	r.Shuffle(len(letters), func(i, j int) { letters[i], letters[j] = letters[j], letters[i] })
	show := map[int]bool{}
	for _, i := range letters[:revealedCount(len(letters)/2, frame, frames)] {
		show[i] = true
	}

	var b strings.Builder
	for i, ch := range runes {
		if i > 0 {
			b.WriteByte(' ')
		}
		switch {
		case ch == ' ':
			b.WriteString("  ")
		case show[i]:
			b.WriteRune(ch)
		default:
			b.WriteRune(hiddenLetter)
		}
	}
	return b.String()
}

// storeMedia saves a blob and returns its ID
func (c *CraftCord) storeMedia(ctx context.Context, data []byte, mimeType string) (string, error) {
	blob := &MediaBlob{ID: newID(), MimeType: mimeType, Data: data}
	if _, err := c.writeDB.Create(ctx, blob); err != nil {
		return "", fmt.Errorf("error storing media: %w", err)
	}
	return blob.ID, nil
}

// mediaURL is the public URL of a stored PNG
func (c *CraftCord) mediaURL(id string) string {
	return fmt.Sprintf("%s/media/%s.png", c.config.API.mediaBaseURL(), id)
}

func (c *CraftCord) loadMedia(ctx context.Context, id string) (*MediaBlob, error) {
	var blob MediaBlob
	err := c.db.WithContext(ctx).Where("id = ?", id).Take(&blob).Error
	return &blob, err
}

// purgeMedia deletes media created before cutoff
func (c *CraftCord) purgeMedia(ctx context.Context, cutoff time.Time) (int64, error) {
	return c.writeDB.Delete(ctx, &MediaBlob{}, "created_at < ?", cutoff.UnixMilli())
}
