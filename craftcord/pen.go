package craftcord

import (
	"fmt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PenEntry counts a player's penned creatures of one kind. Golden and
// regular creatures are tracked separately.
type PenEntry struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	PlayerID string `gorm:"uniqueIndex:idx_pen_key;not null" json:"player_id"`
	Creature string `gorm:"uniqueIndex:idx_pen_key;not null" json:"creature"`
	Golden   bool   `gorm:"uniqueIndex:idx_pen_key;not null" json:"golden"`
	Count    int64  `gorm:"column:head_count;not null;check:head_count >= 0" json:"count"`
	ModelTimestamps
}

func (PenEntry) TableName() string {
	return "pen"
}

// SacrificeLog records every creature converted to emeralds
type SacrificeLog struct {
	ID        uint   `gorm:"primaryKey" json:"id"`
	PlayerID  string `gorm:"index;not null" json:"player_id"`
	Creature  string `gorm:"not null" json:"creature"`
	Rarity    int    `gorm:"not null" json:"rarity"`
	Golden    bool   `json:"golden"`
	Reward    int64  `json:"reward"`
	Reason    string `json:"reason"`
	CreatedAt int64  `gorm:"autoCreateTime:milli;index" json:"created_at"`
}

func (SacrificeLog) TableName() string {
	return "sacrifice_history"
}

// Reasons a creature is sacrificed rather than penned
const (
	sacrificeReasonChosen  = "chosen"
	sacrificeReasonHostile = "hostile"
	sacrificeReasonPenFull = "pen full"
)

func penOccupancy(tx *gorm.DB, playerID string) (int64, error) {
	var occupied int64
	err := tx.Model(&PenEntry{}).
		Select("COALESCE(SUM(head_count), 0)").
		Where("player_id = ?", playerID).
		Scan(&occupied).Error
	return occupied, err
}

// penHasRoom reports whether the player's pen has a free slot. The
// player row is locked first, so two catches can't both take the last
// slot.
func penHasRoom(tx *gorm.DB, playerID string) (bool, error) {
	var p Player
	err := lockForUpdate(tx).
		Select("id", "pen_size").
		Where("id = ?", playerID).
		Take(&p).Error
	if err != nil {
		return false, err
	}
	occupied, err := penOccupancy(tx, playerID)
	if err != nil {
		return false, err
	}
	return occupied < int64(p.PenSize), nil
}

// addToPen upserts the (player, creature, golden) entry, adding n to
// any existing count. Capacity is the caller's concern.
func addToPen(tx *gorm.DB, playerID, creature string, golden bool, n int64) error {
	entry := PenEntry{PlayerID: playerID, Creature: creature, Golden: golden, Count: n}
	return tx.Clauses(
		clause.OnConflict{
			Columns: []clause.Column{
				{Name: "player_id"},
				{Name: "creature"},
				{Name: "golden"},
			},
			DoUpdates: clause.Assignments(
				map[string]any{
					"head_count": gorm.Expr("pen.head_count + excluded.head_count"),
					"updated_at": gorm.Expr("excluded.updated_at"),
				},
			),
		},
	).Create(&entry).Error
}

// takeFromPen removes n of the creature, deleting emptied entries
func takeFromPen(tx *gorm.DB, playerID, creature string, golden bool, n int64) error {
	rv := tx.Model(&PenEntry{}).
		Where(
			"player_id = ? AND creature = ? AND golden = ? AND head_count >= ?",
			playerID, creature, golden, n,
		).
		UpdateColumn("head_count", gorm.Expr("head_count - ?", n))
	if rv.Error != nil {
		return rv.Error
	}
	if rv.RowsAffected == 0 {
		have, err := penCount(tx, playerID, creature, golden)
		if err != nil {
			return err
		}
		return &InsufficientResourceError{Item: creatureLabel(creature, golden), Need: n, Have: have}
	}
	return tx.Where(
		"player_id = ? AND creature = ? AND golden = ? AND head_count <= 0",
		playerID, creature, golden,
	).Delete(&PenEntry{}).Error
}

func penCount(tx *gorm.DB, playerID, creature string, golden bool) (int64, error) {
	var n int64
	err := tx.Model(&PenEntry{}).
		Select("head_count").
		Where("player_id = ? AND creature = ? AND golden = ?", playerID, creature, golden).
		Limit(1).
		Scan(&n).Error
	return n, err
}

func penContents(db *gorm.DB, playerID string) ([]PenEntry, error) {
	var entries []PenEntry
	err := db.Where("player_id = ? AND head_count > 0", playerID).
		Order("golden desc, creature").
		Find(&entries).Error
	return entries, err
}

func creatureLabel(name string, golden bool) string {
	if golden {
		return "golden " + name
	}
	return name
}

// sacrificeReward is the emerald payout for a creature: the rarity's
// base (doubled when golden), plus the sword bonus, plus one when
// caught early
func sacrificeReward(c Creature, golden bool, sword Tier, early bool) int64 {
	reward := c.RarityInfo().Emeralds
	if golden {
		reward *= goldenRewardFactor
	}
	reward += swordBonus[sword]
	if early {
		reward += earlyCatchBonus
	}
	return reward
}

// SacrificeResult describes a completed sacrifice
type SacrificeResult struct {
	Creature Creature
	Golden   bool
	Sword    Tier
	Reward   int64
	Reason   string
}

func (s SacrificeResult) String() string {
	msg := fmt.Sprintf(
		"🗡️ Sacrificed %s for **%d** emeralds",
		creatureLabel(s.Creature.Name, s.Golden),
		s.Reward,
	)
	if s.Sword != TierNone {
		msg += fmt.Sprintf(" (with your %s sword)", s.Sword)
	}
	if s.Reason != "" && s.Reason != sacrificeReasonChosen {
		msg += fmt.Sprintf(" because %s", sacrificeReasonText(s.Reason))
	}
	return msg + "."
}

func sacrificeReasonText(reason string) string {
	switch reason {
	case sacrificeReasonHostile:
		return "it can't be penned"
	case sacrificeReasonPenFull:
		return "your pen is full"
	default:
		return reason
	}
}

// sacrifice pays out the creature's reward, consuming a use of the
// player's best sword. The creature must already be out of the pen
// (or never have been in it).
func sacrifice(
	tx *gorm.DB,
	playerID string,
	c Creature,
	golden bool,
	early bool,
	reason string,
) (*SacrificeResult, error) {
	sword, err := useBestTool(tx, playerID, ToolSword)
	if err != nil {
		return nil, err
	}
	reward := sacrificeReward(c, golden, sword, early)
	if err = GiveQuantity(tx, playerID, ItemEmerald, reward); err != nil {
		return nil, err
	}
	entry := SacrificeLog{
		PlayerID: playerID,
		Creature: c.Name,
		Rarity:   c.Rarity,
		Golden:   golden,
		Reward:   reward,
		Reason:   reason,
	}
	if err = tx.Create(&entry).Error; err != nil {
		return nil, err
	}
	return &SacrificeResult{
		Creature: c,
		Golden:   golden,
		Sword:    sword,
		Reward:   reward,
		Reason:   reason,
	}, nil
}

// CreditResult is the outcome of handing a creature to a player
type CreditResult struct {
	Creature  Creature
	Golden    bool
	Penned    bool
	Sacrifice *SacrificeResult
}

func (r CreditResult) String() string {
	if r.Penned {
		return fmt.Sprintf("🐾 %s was added to the pen.", creatureLabel(r.Creature.Name, r.Golden))
	}
	return r.Sacrifice.String()
}

// creditCreature pens the creature, or sacrifices it when it's hostile
// or the pen is at capacity
func creditCreature(
	tx *gorm.DB,
	playerID string,
	c Creature,
	golden bool,
	early bool,
) (*CreditResult, error) {
	if err := ensurePlayer(tx, playerID, ""); err != nil {
		return nil, err
	}
	result := &CreditResult{Creature: c, Golden: golden}

	reason := ""
	if c.Hostile {
		reason = sacrificeReasonHostile
	} else {
		room, err := penHasRoom(tx, playerID)
		if err != nil {
			return nil, err
		}
		if !room {
			reason = sacrificeReasonPenFull
		}
	}

	if reason != "" {
		s, err := sacrifice(tx, playerID, c, golden, early, reason)
		if err != nil {
			return nil, err
		}
		result.Sacrifice = s
		return result, nil
	}

	if err := addToPen(tx, playerID, c.Name, golden, 1); err != nil {
		return nil, err
	}
	if early {
		if err := GiveQuantity(tx, playerID, ItemEmerald, earlyCatchBonus); err != nil {
			return nil, err
		}
	}
	result.Penned = true
	return result, nil
}
