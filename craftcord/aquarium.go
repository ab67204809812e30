package craftcord

import (
	"context"
	"fmt"
	"gorm.io/gorm"
	"strings"
	"time"
)

// Fish is one fish in a player's aquarium. Fish older than
// aquariumMaxAge stop producing food and are purged by housekeeping.
type Fish struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	PlayerID string `gorm:"index;not null" json:"player_id"`
	Color1   string `gorm:"not null" json:"color1"`
	Color2   string `gorm:"not null" json:"color2"`
	Type     string `gorm:"not null" json:"type"`
	CaughtAt int64  `gorm:"autoCreateTime:milli;index" json:"caught_at"`
}

func (Fish) TableName() string {
	return "aquarium"
}

func (f Fish) String() string {
	return fmt.Sprintf(
		"%s and %s %s",
		strings.ReplaceAll(f.Color1, "_", " "),
		strings.ReplaceAll(f.Color2, "_", " "),
		f.Type,
	)
}

// randomFish picks two distinct colours and a type
func randomFish(rng *lockedRand, playerID string) Fish {
	i := rng.Intn(len(fishColors))
	j := rng.Intn(len(fishColors) - 1)
	if j >= i {
		j++
	}
	return Fish{
		PlayerID: playerID,
		Color1:   fishColors[i],
		Color2:   fishColors[j],
		Type:     fishTypes[rng.Intn(len(fishTypes))],
	}
}

// recentFish returns the player's newest fish caught since cutoff, at
// most maxAquariumFish
func recentFish(db *gorm.DB, playerID string, cutoff time.Time) ([]Fish, error) {
	var fish []Fish
	err := db.Where("player_id = ? AND caught_at >= ?", playerID, cutoff.UnixMilli()).
		Order("caught_at DESC, id DESC").
		Limit(maxAquariumFish).
		Find(&fish).Error
	return fish, err
}

// fishFoodRate is the food an aquarium produces per distribution: one
// per distinct first colour, second colour and type
func fishFoodRate(fish []Fish) int64 {
	color1 := map[string]struct{}{}
	color2 := map[string]struct{}{}
	types := map[string]struct{}{}
	for _, f := range fish {
		color1[f.Color1] = struct{}{}
		color2[f.Color2] = struct{}{}
		types[f.Type] = struct{}{}
	}
	return int64(len(color1) + len(color2) + len(types))
}

// distributeFishFood credits every aquarium's food production. Returns
// the number of players credited.
func (c *CraftCord) distributeFishFood(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-aquariumMaxAge)
	owners, err := aquariumOwners(ctx, c.db, cutoff)
	if err != nil {
		return 0, fmt.Errorf("error listing aquariums: %w", err)
	}
	credited := 0
	err = c.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			for _, playerID := range owners {
				fish, err := recentFish(tx, playerID, cutoff)
				if err != nil {
					return err
				}
				food := fishFoodRate(fish)
				if food == 0 {
					continue
				}
				if err = GiveQuantity(tx, playerID, ItemFishFood, food); err != nil {
					return err
				}
				credited++
			}
			return nil
		},
	)
	if err != nil {
		return 0, err
	}
	c.logger.InfoContext(ctx, "distributed fish food", "players", credited)
	return credited, nil
}

// purgeFish deletes fish caught before cutoff
func (c *CraftCord) purgeFish(ctx context.Context, cutoff time.Time) (int64, error) {
	return c.writeDB.Delete(ctx, &Fish{}, "caught_at < ?", cutoff.UnixMilli())
}
