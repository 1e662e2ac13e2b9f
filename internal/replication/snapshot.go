package replication

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/MarcoPoloResearchLab/stockroom/internal/inventory"
	"github.com/MarcoPoloResearchLab/stockroom/internal/reconcile"
	"github.com/MarcoPoloResearchLab/stockroom/internal/users"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Snapshot is a full copy of a store, used for bulk export and import.
type Snapshot struct {
	ExportedAtMicros int64             `json:"exported_at_us" yaml:"exported_at_us"`
	Entities         EntityPayloads    `json:"entities" yaml:"entities"`
	Movements        []MovementPayload `json:"movements" yaml:"movements"`
	Users            []UserPayload     `json:"users" yaml:"users"`
}

// UserPayload is an exported identity. Imports ignore users.
type UserPayload struct {
	Provider    string `json:"provider" yaml:"provider"`
	Subject     string `json:"subject" yaml:"subject"`
	UserID      string `json:"user_id" yaml:"user_id"`
	Email       string `json:"email" yaml:"email"`
	DisplayName string `json:"display_name" yaml:"display_name"`
}

// UserLister supplies the identities included in an export.
type UserLister interface {
	ListIdentities(ctx context.Context) ([]users.Identity, error)
}

// ImportReport summarizes a bulk import.
type ImportReport struct {
	ApplyReport
	ImportedAt inventory.Timestamp
}

func (s Snapshot) Changeset() inventory.Changeset {
	return changesetOf(s.Entities, s.Movements)
}

func (s Snapshot) Validate() error {
	return validateShape(s.Entities, s.Movements)
}

// Export copies every entity, including soft-deleted ones, and every movement.
func (s *Service) Export(ctx context.Context) (Snapshot, error) {
	return ExportStore(ctx, s.store, s.users)
}

// ExportStore builds a snapshot of any store. directory may be nil.
func ExportStore(ctx context.Context, store *inventory.Store, directory UserLister) (Snapshot, error) {
	products, err := inventory.List[inventory.Product](ctx, store, true)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", opExport, err)
	}
	categories, err := inventory.List[inventory.Category](ctx, store, true)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", opExport, err)
	}
	locations, err := inventory.List[inventory.StorageLocation](ctx, store, true)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", opExport, err)
	}
	movements, err := store.Movements(ctx, 0)
	if err != nil {
		return Snapshot{}, fmt.Errorf("%s: %w", opExport, err)
	}

	changes := inventory.Changeset{
		Products:         products,
		Categories:       categories,
		StorageLocations: locations,
		Movements:        movements,
	}
	snapshot := Snapshot{
		ExportedAtMicros: store.Now().Int64(),
		Entities:         EntityPayloadsOf(changes),
		Movements:        MovementPayloadsOf(movements),
		Users:            []UserPayload{},
	}
	if directory != nil {
		identities, err := directory.ListIdentities(ctx)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%s: %w", opExport, err)
		}
		for _, identity := range identities {
			snapshot.Users = append(snapshot.Users, UserPayload{
				Provider:    identity.Provider,
				Subject:     identity.Subject,
				UserID:      identity.UserID,
				Email:       identity.Email,
				DisplayName: identity.DisplayName,
			})
		}
	}
	return snapshot, nil
}

// Import merges a snapshot with the same rules as a replication round.
func (s *Service) Import(ctx context.Context, snapshot Snapshot) (ImportReport, error) {
	return ImportStore(ctx, s.store, snapshot, s.logger)
}

// ImportStore merges a snapshot into any store in one transaction.
func ImportStore(ctx context.Context, store *inventory.Store, snapshot Snapshot, logger *zap.Logger) (ImportReport, error) {
	if err := snapshot.Validate(); err != nil {
		return ImportReport{}, err
	}
	if logger == nil {
		logger = store.Logger()
	}

	changes := snapshot.Changeset()
	release := store.LockProducts(changes.ProductIDs()...)
	defer release()

	var report ImportReport
	err := store.Transaction(ctx, func(tx *inventory.Store) error {
		importedAt := tx.Now()
		applied, err := applyChangeset(ctx, tx, "import", reconcile.TiePreferLocal, changes, importedAt, logger)
		if err != nil {
			return err
		}
		report = ImportReport{ApplyReport: applied, ImportedAt: importedAt}
		return nil
	})
	if err != nil {
		return ImportReport{}, fmt.Errorf("%s: %w", opImport, err)
	}
	logger.Info("snapshot imported",
		zap.Int("written", report.Written()),
		zap.Int("conflicts", report.Conflicts),
		zap.Int("skipped", report.Skipped))
	return report, nil
}

// Snapshot file formats.
const (
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// EncodeSnapshot writes a snapshot as indented JSON or YAML.
func EncodeSnapshot(w io.Writer, snapshot Snapshot, format string) error {
	switch strings.ToLower(format) {
	case FormatJSON, "":
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		return encoder.Encode(snapshot)
	case FormatYAML, "yml":
		encoder := yaml.NewEncoder(w)
		encoder.SetIndent(2)
		if err := encoder.Encode(snapshot); err != nil {
			return err
		}
		return encoder.Close()
	default:
		return fmt.Errorf("unsupported snapshot format %q", format)
	}
}

// DecodeSnapshot reads a snapshot. Undecodable input is a malformed exchange.
func DecodeSnapshot(r io.Reader, format string) (Snapshot, error) {
	var snapshot Snapshot
	var err error
	switch strings.ToLower(format) {
	case FormatJSON, "":
		err = json.NewDecoder(r).Decode(&snapshot)
	case FormatYAML, "yml":
		err = yaml.NewDecoder(r).Decode(&snapshot)
	default:
		return Snapshot{}, fmt.Errorf("unsupported snapshot format %q", format)
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("%w: %v", ErrMalformedExchange, err)
	}
	return snapshot, nil
}
