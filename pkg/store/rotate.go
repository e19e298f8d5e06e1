package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/threadsync/threadsync/pkg/crypto"
)

// RotateCredentials re-encrypts every stored source-config credential under
// a new master key. Configs whose fields are empty or not in encrypted form
// are left alone. Returns how many configs were rewritten.
//
// The pass is resumable: a config that fails to rotate is logged and
// skipped, and rerunning with the same keys picks up where it left off
// because already-rotated values no longer decrypt under the old key.
func RotateCredentials(ctx context.Context, st Store, oldKey, newKey string) (int, error) {
	configs, err := st.SourceConfigs().All(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing configs: %w", err)
	}

	rotated := 0
	for _, cfg := range configs {
		changed := false
		for _, field := range []*string{&cfg.APIToken, &cfg.TaskDBToken, &cfg.LLMKey} {
			if *field == "" || !crypto.IsEncrypted(*field) {
				continue
			}
			next, err := crypto.Rotate(*field, oldKey, newKey)
			if err != nil {
				slog.Error("Key rotation: skipping config",
					"config_id", cfg.ID, "tenant", cfg.TenantID, "error", err)
				changed = false
				break
			}
			*field = next
			changed = true
		}
		if !changed {
			continue
		}
		if err := st.SourceConfigs().Update(ctx, cfg); err != nil {
			return rotated, fmt.Errorf("updating config %s: %w", cfg.ID, err)
		}
		rotated++
	}
	return rotated, nil
}
