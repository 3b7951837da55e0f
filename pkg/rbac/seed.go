package rbac

import (
	"context"
	"fmt"
)

// SeedLevels upserts the given levels, or DefaultLevels when none are given.
// It runs before NewEvaluator so the cache sees the seeded values.
func SeedLevels(ctx context.Context, store *Store, levels ...PermissionLevel) error {
	if len(levels) == 0 {
		levels = DefaultLevels()
	}
	return store.InTx(ctx, func(tx *Store) error {
		for _, level := range levels {
			if level.Name == "" || level.Value <= 0 {
				return fmt.Errorf("invalid permission level %q=%d", level.Name, level.Value)
			}
			if err := tx.UpsertLevel(ctx, level); err != nil {
				return err
			}
		}
		return nil
	})
}
