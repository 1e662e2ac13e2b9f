package replication

import (
	"context"
	"errors"

	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"github.com/MarcoPoloResearchLab/stockroom/internal/reconcile"
	"go.uber.org/zap"
)

// ApplyReport tallies what happened to each incoming entity and movement.
type ApplyReport struct {
	Inserted           int
	Accepted           int
	Identical          int
	Conflicts          int
	Skipped            int
	MovementsApplied   int
	MovementsDuplicate int

	settled          map[entityKey]struct{}
	settledMovements map[string]struct{}
	// kept holds the local copies that won over the sender's, so they can be
	// returned even when they were recorded before the sender's watermark.
	kept inventory.Changeset
}

type entityKey struct {
	kind inventory.Kind
	id   int64
}

// Written counts rows persisted locally.
func (r ApplyReport) Written() int {
	return r.Inserted + r.Accepted + r.MovementsApplied
}

// alreadyHeld reports whether the sender now holds the same version as this
// replica, so echoing it back would be redundant.
func (r ApplyReport) alreadyHeld(kind inventory.Kind, id int64) bool {
	_, ok := r.settled[entityKey{kind: kind, id: id}]
	return ok
}

func (r ApplyReport) movementHeld(id string) bool {
	_, ok := r.settledMovements[id]
	return ok
}

func (r *ApplyReport) keep(entity inventory.Entity) {
	switch kept := entity.(type) {
	case inventory.Product:
		r.kept.Products = append(r.kept.Products, kept)
	case inventory.Category:
		r.kept.Categories = append(r.kept.Categories, kept)
	case inventory.StorageLocation:
		r.kept.StorageLocations = append(r.kept.StorageLocations, kept)
	}
}

// changesetApplier merges an incoming changeset into a transaction-bound store.
// Entity-level failures are skipped and counted; storage failures abort.
type changesetApplier struct {
	tx         *inventory.Store
	peer       string
	tie        reconcile.TieBreak
	recordedAt inventory.Timestamp
	logger     *zap.Logger
	report     ApplyReport
	conflicts  []ConflictRecord
}

// The hub applies with TiePreferLocal and clients with TiePreferRemote, so a
// tie between the two always settles on the hub's copy.
func applyChangeset(ctx context.Context, tx *inventory.Store, peer string, tie reconcile.TieBreak, changes inventory.Changeset, recordedAt inventory.Timestamp, logger *zap.Logger) (ApplyReport, error) {
	applier := &changesetApplier{
		tx:         tx,
		peer:       peer,
		tie:        tie,
		recordedAt: recordedAt,
		logger:     logger,
		report: ApplyReport{
			settled:          make(map[entityKey]struct{}),
			settledMovements: make(map[string]struct{}),
		},
	}

	if err := mergeAll(ctx, applier, changes.Products); err != nil {
		return ApplyReport{}, err
	}
	if err := mergeAll(ctx, applier, changes.Categories); err != nil {
		return ApplyReport{}, err
	}
	if err := mergeAll(ctx, applier, changes.StorageLocations); err != nil {
		return ApplyReport{}, err
	}
	if err := applier.replayMovements(ctx, changes.Movements); err != nil {
		return ApplyReport{}, err
	}
	if err := saveConflicts(ctx, tx.DB(), applier.conflicts); err != nil {
		return ApplyReport{}, err
	}
	return applier.report, nil
}

func mergeAll[T inventory.Record[T]](ctx context.Context, a *changesetApplier, remotes []T) error {
	for _, remote := range remotes {
		if err := remote.Validate(); err != nil {
			a.skip(remote, err)
			continue
		}
		local, found, err := inventory.Find[T](ctx, a.tx, remote.EntityID())
		if err != nil {
			return err
		}
		outcome, err := reconcile.Merge(local, found, remote, a.tie)
		if err != nil {
			a.skip(remote, err)
			continue
		}

		key := entityKey{kind: remote.Kind(), id: remote.EntityID()}
		switch outcome.Decision {
		case reconcile.DecisionInsert, reconcile.DecisionAcceptRemote:
			if err := inventory.Save(ctx, a.tx, outcome.Winner.WithRecordedAt(a.recordedAt)); err != nil {
				return err
			}
			if outcome.Decision == reconcile.DecisionInsert {
				a.report.Inserted++
			} else {
				a.report.Accepted++
			}
			a.report.settled[key] = struct{}{}
		case reconcile.DecisionIdentical:
			a.report.Identical++
			a.report.settled[key] = struct{}{}
		case reconcile.DecisionKeepLocal:
			a.report.Conflicts++
			a.report.keep(local)
			a.conflicts = append(a.conflicts, newConflictRecord(a.peer, local, remote, a.recordedAt))
			a.logger.Info("replication conflict resolved",
				zap.String("peer", a.peer),
				zap.String("kind", string(key.kind)),
				zap.Int64("id", key.id),
				zap.Int64("local_updated_at_us", local.Version()),
				zap.Int64("remote_updated_at_us", remote.Version()))
		}
	}
	return nil
}

func (a *changesetApplier) replayMovements(ctx context.Context, movements []inventory.StockMovement) error {
	for _, movement := range movements {
		result, err := inventory.ReplayInTx(ctx, a.tx, movement, a.recordedAt)
		switch {
		case err == nil:
		case errors.Is(err, inventory.ErrNotFound), errors.Is(err, inventory.ErrInvalidEntity):
			a.report.Skipped++
			a.logger.Warn("replication movement skipped",
				zap.String("operation", opApplyEntity),
				zap.String("peer", a.peer),
				zap.String("movement_id", movement.ID),
				zap.Int64("product_id", movement.ProductID),
				zap.Error(err))
			continue
		default:
			return err
		}

		if result == inventory.ReplayApplied {
			a.report.MovementsApplied++
		} else {
			a.report.MovementsDuplicate++
		}
		a.report.settledMovements[movement.ID] = struct{}{}
	}
	return nil
}

func (a *changesetApplier) skip(entity inventory.Entity, err error) {
	a.report.Skipped++
	a.logger.Warn("replication entity skipped",
		zap.String("operation", opApplyEntity),
		zap.String("peer", a.peer),
		zap.String("kind", string(entity.Kind())),
		zap.Int64("id", entity.EntityID()),
		zap.Error(err))
}

// withoutHeld drops entities and movements the sender already holds.
func withoutHeld(changes inventory.Changeset, report ApplyReport) inventory.Changeset {
	filtered := inventory.Changeset{
		Products:         make([]inventory.Product, 0, len(changes.Products)),
		Categories:       make([]inventory.Category, 0, len(changes.Categories)),
		StorageLocations: make([]inventory.StorageLocation, 0, len(changes.StorageLocations)),
		Movements:        make([]inventory.StockMovement, 0, len(changes.Movements)),
	}
	for _, product := range changes.Products {
		if !report.alreadyHeld(inventory.KindProduct, product.ID) {
			filtered.Products = append(filtered.Products, product)
		}
	}
	for _, category := range changes.Categories {
		if !report.alreadyHeld(inventory.KindCategory, category.ID) {
			filtered.Categories = append(filtered.Categories, category)
		}
	}
	for _, location := range changes.StorageLocations {
		if !report.alreadyHeld(inventory.KindStorageLocation, location.ID) {
			filtered.StorageLocations = append(filtered.StorageLocations, location)
		}
	}
	for _, movement := range changes.Movements {
		if !report.movementHeld(movement.ID) {
			filtered.Movements = append(filtered.Movements, movement)
		}
	}
	return filtered
}

// withKept adds the copies that won over the sender's to an outgoing
// changeset, unless the changeset already carries them.
func withKept(changes inventory.Changeset, report ApplyReport) inventory.Changeset {
	changes.Products = appendMissing(changes.Products, report.kept.Products)
	changes.Categories = appendMissing(changes.Categories, report.kept.Categories)
	changes.StorageLocations = appendMissing(changes.StorageLocations, report.kept.StorageLocations)
	return changes
}

func appendMissing[T inventory.Entity](outgoing, kept []T) []T {
	present := make(map[int64]struct{}, len(outgoing))
	for _, entity := range outgoing {
		present[entity.EntityID()] = struct{}{}
	}
	for _, entity := range kept {
		if _, ok := present[entity.EntityID()]; !ok {
			outgoing = append(outgoing, entity)
		}
	}
	return outgoing
}
