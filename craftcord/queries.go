package craftcord

import (
	"context"
	"fmt"
	"github.com/Masterminds/squirrel"
	"gorm.io/gorm"
	"time"
)

// Aggregate queries are built with squirrel and run through gorm. They
// keep '?' placeholders, which gorm rebinds for postgres.

// LeaderboardRow is one line of the overall experience leaderboard
type LeaderboardRow struct {
	PlayerID          string `json:"player_id"`
	Username          string `json:"username"`
	OverallExperience int64  `json:"overall_experience"`
}

// BestiaryRow counts a player's sacrifices of one creature
type BestiaryRow struct {
	Creature string `json:"creature"`
	Rarity   int    `json:"rarity"`
	Golden   bool   `json:"golden"`
	Count    int64  `json:"count"`
}

func rawScan(ctx context.Context, db *gorm.DB, q squirrel.Sqlizer, dest any) error {
	query, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("error building query: %w", err)
	}
	return db.WithContext(ctx).Raw(query, args...).Scan(dest).Error
}

// topPlayers returns the top n players by overall experience
func topPlayers(ctx context.Context, db *gorm.DB, n int) ([]LeaderboardRow, error) {
	q := squirrel.Select("id AS player_id", "username", "overall_experience").
		From("players").
		Where(squirrel.Gt{"overall_experience": 0}).
		OrderBy("overall_experience DESC", "id").
		Limit(uint64(n))
	var rows []LeaderboardRow
	err := rawScan(ctx, db, q, &rows)
	return rows, err
}

// playerRank is 1 + the number of players with more overall experience
func playerRank(ctx context.Context, db *gorm.DB, overall int64) (int64, error) {
	q := squirrel.Select("COUNT(*)").
		From("players").
		Where(squirrel.Gt{"overall_experience": overall})
	var higher int64
	if err := rawScan(ctx, db, q, &higher); err != nil {
		return 0, err
	}
	return higher + 1, nil
}

// bestiary groups a player's sacrifice history, golden first, then by
// rarity and name
func bestiary(ctx context.Context, db *gorm.DB, playerID string) ([]BestiaryRow, error) {
	q := squirrel.Select("creature", "rarity", "golden", "COUNT(*) AS count").
		From("sacrifice_history").
		Where(squirrel.Eq{"player_id": playerID}).
		GroupBy("golden", "rarity", "creature").
		OrderBy("golden DESC", "rarity ASC", "creature")
	var rows []BestiaryRow
	err := rawScan(ctx, db, q, &rows)
	return rows, err
}

// aquariumOwners lists players with a fish caught since cutoff
func aquariumOwners(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]string, error) {
	q := squirrel.Select("player_id").
		Distinct().
		From("aquarium").
		Where(squirrel.GtOrEq{"caught_at": cutoff.UnixMilli()}).
		OrderBy("player_id")
	var ids []string
	err := rawScan(ctx, db, q, &ids)
	return ids, err
}

// purchasedSince sums the quantity of item bought by the player since
// cutoff
func purchasedSince(
	ctx context.Context,
	db *gorm.DB,
	playerID string,
	item string,
	cutoff time.Time,
) (int64, error) {
	q := squirrel.Select("COALESCE(SUM(quantity), 0)").
		From("purchase_history").
		Where(
			squirrel.And{
				squirrel.Eq{"player_id": playerID, "item_name": item},
				squirrel.GtOrEq{"created_at": cutoff.UnixMilli()},
			},
		)
	var n int64
	err := rawScan(ctx, db, q, &n)
	return n, err
}
