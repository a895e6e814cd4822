package bandwidth

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/peerdash/peerdash/pkg/clients"
)

// AdoptLegacy reconciles rows recorded before the instance registry
// existed. Early versions stored samples under the bare client-type name
// as a placeholder instance ID; once the registry reports real instances,
// those rows — and the matching restart-state keys — are handed to the
// first registered instance of each client type.
//
// Safe to call repeatedly and with no legacy rows present: once adopted,
// nothing matches the placeholder and every step is a no-op. Call it
// before starting the ingestion timer.
func (e *Engine) AdoptLegacy(ctx context.Context, registered []clients.Instance) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	// First registered instance per client type, in list order.
	firstByType := make(map[string]string)
	var order []string
	for _, inst := range registered {
		if inst.ID == "" || inst.Type == "" {
			continue
		}
		if _, seen := firstByType[inst.Type]; !seen {
			firstByType[inst.Type] = inst.ID
			order = append(order, inst.Type)
		}
	}

	for _, clientType := range order {
		newID := firstByType[clientType]
		if newID == clientType {
			// The registry handed out the placeholder itself; nothing to
			// move and renaming would be a self-assignment.
			continue
		}

		moved, err := e.store.ReassignInstance(ctx, clientType, newID)
		if err != nil {
			return fmt.Errorf("adopt samples for %s: %w", clientType, err)
		}
		if moved > 0 {
			zap.L().Info("adopted legacy samples",
				zap.String("client_type", clientType),
				zap.String("instance", newID),
				zap.Int("rows", moved))
		}

		if !e.catalog.TracksPID(clientType) {
			continue
		}
		if err := e.adoptRestartState(ctx, clientType, newID); err != nil {
			return err
		}
	}

	return nil
}

// adoptRestartState renames "<clientType>:<field>" metadata keys to the
// real "<instanceID>:<field>" namespace, preserving values and removing the
// old keys. State already present under the new namespace wins; the stale
// placeholder key is still removed.
func (e *Engine) adoptRestartState(ctx context.Context, clientType, newID string) error {
	old, err := e.store.ScanMeta(ctx, clientType+":")
	if err != nil {
		return fmt.Errorf("scan legacy restart state for %s: %w", clientType, err)
	}
	if len(old) == 0 {
		return nil
	}

	puts := make(map[string]string)
	deletes := make([]string, 0, len(old))
	for key, value := range old {
		field := strings.TrimPrefix(key, clientType+":")
		if !isRestartField(field) {
			continue
		}
		newKey := StateKey(newID, field)

		existing, err := e.store.GetMeta(ctx, newKey)
		if err != nil {
			return fmt.Errorf("check restart state %s: %w", newKey, err)
		}
		if existing == "" {
			puts[newKey] = value
		}
		deletes = append(deletes, key)
	}

	if err := e.store.ApplyMeta(ctx, puts, deletes); err != nil {
		return fmt.Errorf("rename restart state for %s: %w", clientType, err)
	}
	zap.L().Info("adopted legacy restart state",
		zap.String("client_type", clientType),
		zap.String("instance", newID),
		zap.Int("keys", len(deletes)))
	return nil
}
