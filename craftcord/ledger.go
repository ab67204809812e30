package craftcord

import (
	"errors"
	"fmt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"sort"
)

// LedgerEntry is a player's balance of one item. Rows exist only while
// Quantity > 0.
type LedgerEntry struct {
	ID       uint   `gorm:"primaryKey" json:"-"`
	PlayerID string `gorm:"uniqueIndex:idx_player_items_key;not null" json:"player_id"`
	ItemName string `gorm:"uniqueIndex:idx_player_items_key;not null" json:"item_name"`
	Quantity int64  `gorm:"not null;check:quantity >= 0" json:"quantity"`
	Category string `json:"category"`
	Useable  bool   `json:"useable"`
	ModelTimestamps
}

func (LedgerEntry) TableName() string {
	return "player_items"
}

var errNonPositiveAmount = errors.New("amount must be > 0")

// GetQuantity returns the player's balance of item, or 0 if absent
func GetQuantity(tx *gorm.DB, playerID, item string) (int64, error) {
	var qty int64
	err := tx.Model(&LedgerEntry{}).
		Select("quantity").
		Where("player_id = ? AND item_name = ?", playerID, item).
		Limit(1).
		Scan(&qty).Error
	return qty, err
}

// GiveQuantity adds amount of item to the player's balance, creating
// the row with the item's category metadata if needed
func GiveQuantity(tx *gorm.DB, playerID, item string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("give %s: %w", item, errNonPositiveAmount)
	}
	info := itemInfo(item)
	entry := LedgerEntry{
		PlayerID: playerID,
		ItemName: item,
		Quantity: amount,
		Category: info.Category,
		Useable:  info.Useable,
	}
	return tx.Clauses(
		clause.OnConflict{
			Columns: []clause.Column{{Name: "player_id"}, {Name: "item_name"}},
			DoUpdates: clause.Assignments(
				map[string]any{
					"quantity":   gorm.Expr("player_items.quantity + excluded.quantity"),
					"updated_at": gorm.Expr("excluded.updated_at"),
				},
			),
		},
	).Create(&entry).Error
}

// TakeQuantity removes amount of item from the player. The decrement
// only applies when the balance covers it; otherwise an
// [*InsufficientResourceError] is returned and nothing changes. A
// balance reaching zero deletes the row.
func TakeQuantity(tx *gorm.DB, playerID, item string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("take %s: %w", item, errNonPositiveAmount)
	}
	rv := tx.Model(&LedgerEntry{}).
		Where(
			"player_id = ? AND item_name = ? AND quantity >= ?",
			playerID, item, amount,
		).
		UpdateColumn("quantity", gorm.Expr("quantity - ?", amount))
	if rv.Error != nil {
		return rv.Error
	}
	if rv.RowsAffected == 0 {
		have, err := GetQuantity(tx, playerID, item)
		if err != nil {
			return err
		}
		return &InsufficientResourceError{Item: item, Need: amount, Have: have}
	}
	return tx.Where(
		"player_id = ? AND item_name = ? AND quantity <= 0",
		playerID, item,
	).Delete(&LedgerEntry{}).Error
}

// shortfalls reports every item in cost the player can't cover, in
// item name order
func shortfalls(tx *gorm.DB, playerID string, cost map[string]int64) (
	[]*InsufficientResourceError,
	error,
) {
	var missing []*InsufficientResourceError
	for _, item := range sortedKeys(cost) {
		have, err := GetQuantity(tx, playerID, item)
		if err != nil {
			return nil, err
		}
		if have < cost[item] {
			missing = append(
				missing,
				&InsufficientResourceError{Item: item, Need: cost[item], Have: have},
			)
		}
	}
	return missing, nil
}

// takeAll takes every item in cost, or none of them. It must run inside
// a transaction, so a failure part way through rolls back.
func takeAll(tx *gorm.DB, playerID string, cost map[string]int64) error {
	missing, err := shortfalls(tx, playerID, cost)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		errs := make([]error, len(missing))
		for i, m := range missing {
			errs[i] = m
		}
		return errors.Join(errs...)
	}
	for _, item := range sortedKeys(cost) {
		if err = TakeQuantity(tx, playerID, item, cost[item]); err != nil {
			return err
		}
	}
	return nil
}

// inventory returns every ledger row held by the player
func inventory(db *gorm.DB, playerID string) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := db.Where("player_id = ?", playerID).
		Order("category, item_name").
		Find(&entries).Error
	return entries, err
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
