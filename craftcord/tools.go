package craftcord

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ToolRecord tracks the remaining durability of one (kind, tier) tool.
// A record at zero uses is kept but treated as absent.
type ToolRecord struct {
	ID       uint     `gorm:"primaryKey" json:"-"`
	PlayerID string   `gorm:"uniqueIndex:idx_tools_key;not null" json:"player_id"`
	Kind     ToolKind `gorm:"uniqueIndex:idx_tools_key;not null" json:"kind"`
	Tier     Tier     `gorm:"uniqueIndex:idx_tools_key;not null" json:"tier"`
	UsesLeft int      `gorm:"not null;check:uses_left >= 0" json:"uses_left"`
	ModelTimestamps
}

func (ToolRecord) TableName() string {
	return "tools"
}

// bestOwnedTier returns the highest tier of kind with uses left, or
// TierNone
func bestOwnedTier(tools []ToolRecord, kind ToolKind) Tier {
	best := TierNone
	for _, t := range tools {
		if t.Kind == kind && t.UsesLeft > 0 && t.Tier > best {
			best = t.Tier
		}
	}
	return best
}

func ownedTools(tx *gorm.DB, playerID string) ([]ToolRecord, error) {
	var tools []ToolRecord
	err := tx.Where("player_id = ? AND uses_left > 0", playerID).
		Order("kind, tier").
		Find(&tools).Error
	return tools, err
}

// BestTier resolves the player's best usable tier of kind
func BestTier(tx *gorm.DB, playerID string, kind ToolKind) (Tier, error) {
	var tools []ToolRecord
	err := tx.Where(
		"player_id = ? AND kind = ? AND uses_left > 0",
		playerID, kind,
	).Find(&tools).Error
	if err != nil {
		return TierNone, err
	}
	return bestOwnedTier(tools, kind), nil
}

// useBestTool consumes one use of the player's best tool of kind and
// returns its tier. Returns TierNone, consuming nothing, if they have none.
func useBestTool(tx *gorm.DB, playerID string, kind ToolKind) (Tier, error) {
	tier, err := BestTier(tx, playerID, kind)
	if err != nil || tier == TierNone {
		return tier, err
	}
	rv := tx.Model(&ToolRecord{}).
		Where(
			"player_id = ? AND kind = ? AND tier = ? AND uses_left > 0",
			playerID, kind, tier,
		).
		UpdateColumn("uses_left", gorm.Expr("uses_left - 1"))
	if rv.Error != nil {
		return TierNone, rv.Error
	}
	if rv.RowsAffected == 0 {
		return TierNone, nil
	}
	return tier, nil
}

// grantTool adds uses to the player's (kind, tier) tool
func grantTool(tx *gorm.DB, playerID string, kind ToolKind, tier Tier, uses int) error {
	rec := ToolRecord{PlayerID: playerID, Kind: kind, Tier: tier, UsesLeft: uses}
	return tx.Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "player_id"}, {Name: "kind"}, {Name: "tier"}},
			DoUpdates: clause.Assignments(
				map[string]any{
					"uses_left":  gorm.Expr("tools.uses_left + excluded.uses_left"),
					"updated_at": gorm.Expr("excluded.updated_at"),
				},
			),
		},
	).Create(&rec).Error
}
