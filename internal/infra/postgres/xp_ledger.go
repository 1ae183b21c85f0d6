package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"quiz-duel-service/internal/domain"
)

type userXP struct {
	bun.BaseModel `bun:"table:user_xp"`

	UserID    string    `bun:"user_id,pk"`
	TotalXP   int64     `bun:"total_xp"`
	Level     int       `bun:"level"`
	UpdatedAt time.Time `bun:"updated_at"`
}

type xpAward struct {
	bun.BaseModel `bun:"table:xp_awards"`

	ID        int64     `bun:"id,pk,autoincrement"`
	UserID    string    `bun:"user_id"`
	Delta     int       `bun:"delta"`
	TotalXP   int64     `bun:"total_xp"`
	CreatedAt time.Time `bun:"created_at"`
}

// XPLedger applies XP awards in Postgres. Each award updates the user's
// total and appends to xp_awards in one transaction; totals never go negative.
type XPLedger struct {
	db    *bun.DB
	clock func() time.Time
}

func NewXPLedger(db *bun.DB) *XPLedger {
	return &XPLedger{db: db, clock: time.Now}
}

func (l *XPLedger) AwardXP(ctx context.Context, userID string, delta int) (domain.XPTotals, error) {
	if userID == "" {
		return domain.XPTotals{}, domain.ErrInvalidArgs
	}
	now := l.clock()
	var row userXP

	err := l.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		row = userXP{UserID: userID, TotalXP: max(int64(delta), 0), Level: 1, UpdatedAt: now}
		_, err := tx.NewInsert().
			Model(&row).
			On("CONFLICT (user_id) DO UPDATE").
			Set("total_xp = GREATEST(user_xp.total_xp + ?, 0)", delta).
			Set("updated_at = EXCLUDED.updated_at").
			Returning("total_xp").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("upsert user_xp: %w", err)
		}

		row.Level = domain.LevelFor(row.TotalXP)
		if _, err := tx.NewUpdate().
			Model(&row).
			Column("level").
			WherePK().
			Exec(ctx); err != nil {
			return fmt.Errorf("update level: %w", err)
		}

		award := xpAward{UserID: userID, Delta: delta, TotalXP: row.TotalXP, CreatedAt: now}
		if _, err := tx.NewInsert().Model(&award).Exec(ctx); err != nil {
			return fmt.Errorf("insert xp_award: %w", err)
		}
		return nil
	})
	if err != nil {
		return domain.XPTotals{}, err
	}
	return domain.XPTotals{UserID: userID, TotalXP: row.TotalXP, Level: row.Level}, nil
}

// Totals reads the current XP of a user; unknown users have zero XP at level 1.
func (l *XPLedger) Totals(ctx context.Context, userID string) (domain.XPTotals, error) {
	var row userXP
	err := l.db.NewSelect().Model(&row).Where("user_id = ?", userID).Scan(ctx)
	if err == sql.ErrNoRows {
		return domain.XPTotals{UserID: userID, Level: 1}, nil
	}
	if err != nil {
		return domain.XPTotals{}, err
	}
	return domain.XPTotals{UserID: userID, TotalXP: row.TotalXP, Level: row.Level}, nil
}
