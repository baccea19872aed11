package contract

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/contractvault/contractvault/internal/logging"
	"github.com/contractvault/contractvault/internal/metrics"
)

// DeleteResult describes a completed contract deletion.
type DeleteResult struct {
	ContractID      int64    `json:"contract_id"`
	VersionsRemoved int      `json:"versions_removed"`
	CleanupFailed   []string `json:"cleanup_failed,omitempty"`
}

// DeletionCoordinator removes a contract with all of its versions, content
// and stored bytes.
type DeletionCoordinator struct {
	store   Store
	objects ObjectStore
}

// NewDeletionCoordinator creates a DeletionCoordinator.
func NewDeletionCoordinator(store Store, objects ObjectStore) *DeletionCoordinator {
	return &DeletionCoordinator{store: store, objects: objects}
}

// DeleteContract removes the metadata in one transaction and then the bytes
// of each removed version. Byte removal failures are logged and counted but
// never fail the call: at worst they leave orphans for the sweep.
func (d *DeletionCoordinator) DeleteContract(ctx context.Context, contractID int64) (*DeleteResult, error) {
	versions, err := d.store.DeleteContract(ctx, contractID)
	if err != nil {
		return nil, fmt.Errorf("delete contract %d: %w", contractID, err)
	}

	log := logging.WithContext(ctx)
	result := &DeleteResult{ContractID: contractID, VersionsRemoved: len(versions)}
	for _, v := range versions {
		if v.Location == "" {
			continue
		}
		if err := d.objects.Remove(ctx, v.Location); err != nil {
			metrics.RecordCleanupFailure()
			result.CleanupFailed = append(result.CleanupFailed, v.Location)
			log.Error("remove version bytes failed",
				logging.ContractID(contractID),
				logging.VersionNumber(v.Number),
				logging.Location(v.Location),
				zap.Error(fmt.Errorf("%w: %w", ErrStorageCleanupFailure, err)))
		}
	}

	log.Info("contract deleted",
		logging.ContractID(contractID),
		zap.Int("versions", len(versions)),
		zap.Int("cleanup_failures", len(result.CleanupFailed)))
	return result, nil
}
