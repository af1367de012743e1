// Package store is the durable side of the verification pipeline: the record
// locator, the per-record processing state machine, the evidence writer, and
// the provider directory lookup. The schema is owned by the provider-facing
// backend; AutoMigrate bootstraps a compatible one for development and tests.
package store

import (
	"context"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store wraps the relational database behind the operations the pipeline
// needs. It is the sole writer of processed_service_records and
// oracle-sourced evidence rows during normal operation.
type Store struct {
	db *gorm.DB
}

// Open opens (or creates) the database at dsn and ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := db.AutoMigrate(&ServiceRecord{}, &ProcessedServiceRecord{}, &Evidence{}, &ServiceProvider{}); err != nil {
		return nil, errors.Wrap(err, "migrate schema")
	}
	return &Store{db: db}, nil
}

// New wraps an already-open gorm handle. Used by tests and by callers that
// manage the connection lifecycle themselves.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// SeedServiceRecord inserts a service record. The provider-facing backend
// owns these rows in production; this exists for development seeding and
// tests.
func (s *Store) SeedServiceRecord(ctx context.Context, record *ServiceRecord) error {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return errors.Wrapf(err, "seed service record %s", record.RecordID)
	}
	return nil
}

// SeedProvider inserts a provider directory row. Development and test use
// only, like SeedServiceRecord.
func (s *Store) SeedProvider(ctx context.Context, provider *ServiceProvider) error {
	if err := s.db.WithContext(ctx).Create(provider).Error; err != nil {
		return errors.Wrapf(err, "seed provider %s", provider.ProviderID)
	}
	return nil
}

// FindUnprocessed returns every service record that has no processing entry
// of any status, in insertion order. A record that ever reached the pipeline,
// including one that FAILED, is never returned again.
func (s *Store) FindUnprocessed(ctx context.Context) ([]ServiceRecord, error) {
	var records []ServiceRecord
	err := s.db.WithContext(ctx).
		Joins("LEFT JOIN processed_service_records ON processed_service_records.service_record_id = service_records.id").
		Where("processed_service_records.id IS NULL").
		Order("service_records.id ASC").
		Find(&records).Error
	if err != nil {
		return nil, errors.Wrap(err, "find unprocessed service records")
	}
	return records, nil
}

// Begin claims a service record by creating its processing entry directly in
// PROCESSING status (the pipeline works synchronously once claimed, so
// PENDING is collapsed). Returns the new entry's id.
func (s *Store) Begin(ctx context.Context, serviceRecordID uint, providerID string) (uint, error) {
	entry := ProcessedServiceRecord{
		ServiceRecordID: serviceRecordID,
		ProviderID:      providerID,
		Status:          StatusProcessing,
	}
	if err := s.db.WithContext(ctx).Create(&entry).Error; err != nil {
		return 0, errors.Wrapf(err, "create processing entry for service record %d", serviceRecordID)
	}
	return entry.ID, nil
}

// Complete transitions a PROCESSING entry to COMPLETED and stores the
// attestation results. Entries already in a terminal status are rejected.
func (s *Store) Complete(ctx context.Context, entryID, evidenceID uint, ledgerEventID uint64, txHash string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&ProcessedServiceRecord{}).
		Where("id = ? AND status = ?", entryID, StatusProcessing).
		Updates(map[string]any{
			"status":              StatusCompleted,
			"evidence_id":         evidenceID,
			"blockchain_event_id": ledgerEventID,
			"tx_hash":             txHash,
			"processed_at":        now,
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "complete processing entry %d", entryID)
	}
	if res.RowsAffected == 0 {
		return errors.Errorf("processing entry %d is not in %s status", entryID, StatusProcessing)
	}
	return nil
}

// Fail transitions a PROCESSING entry to FAILED with a human-readable
// message. FAILED is terminal: there is no automatic retry path.
func (s *Store) Fail(ctx context.Context, entryID uint, message string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).
		Model(&ProcessedServiceRecord{}).
		Where("id = ? AND status = ?", entryID, StatusProcessing).
		Updates(map[string]any{
			"status":        StatusFailed,
			"error_message": message,
			"processed_at":  now,
		})
	if res.Error != nil {
		return errors.Wrapf(res.Error, "fail processing entry %d", entryID)
	}
	if res.RowsAffected == 0 {
		return errors.Errorf("processing entry %d is not in %s status", entryID, StatusProcessing)
	}
	return nil
}

// CreateOracleEvidence persists the off-chain mirror of a successfully
// attested event. The oracle invariants (CONFIRMED status, verified flag,
// confirmation timestamps) are stamped here so callers cannot create an
// oracle evidence row in any other shape.
func (s *Store) CreateOracleEvidence(ctx context.Context, ev Evidence) (uint, error) {
	now := time.Now().UTC()
	ev.Status = EvidenceConfirmed
	ev.IsVerified = true
	ev.ConfirmedAt = &now
	ev.VerifiedAt = &now

	if err := s.db.WithContext(ctx).Create(&ev).Error; err != nil {
		return 0, errors.Wrap(err, "create evidence")
	}
	return ev.ID, nil
}

// ProviderName resolves a provider id to its display name, falling back to
// the raw id when the directory has no row for it.
func (s *Store) ProviderName(ctx context.Context, providerID string) (string, error) {
	var provider ServiceProvider
	err := s.db.WithContext(ctx).
		Where("provider_id = ?", providerID).
		First(&provider).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return providerID, nil
	}
	if err != nil {
		return "", errors.Wrapf(err, "look up provider %s", providerID)
	}
	return provider.ProviderName, nil
}

// ProcessingEntry fetches one processing entry by id.
func (s *Store) ProcessingEntry(ctx context.Context, entryID uint) (*ProcessedServiceRecord, error) {
	var entry ProcessedServiceRecord
	if err := s.db.WithContext(ctx).First(&entry, entryID).Error; err != nil {
		return nil, errors.Wrapf(err, "load processing entry %d", entryID)
	}
	return &entry, nil
}

// ProcessingEntryForRecord fetches the processing entry claimed for a
// service record, if any.
func (s *Store) ProcessingEntryForRecord(ctx context.Context, serviceRecordID uint) (*ProcessedServiceRecord, error) {
	var entry ProcessedServiceRecord
	err := s.db.WithContext(ctx).
		Where("service_record_id = ?", serviceRecordID).
		First(&entry).Error
	if err != nil {
		return nil, errors.Wrapf(err, "load processing entry for service record %d", serviceRecordID)
	}
	return &entry, nil
}

// EvidenceByID fetches one evidence row by id.
func (s *Store) EvidenceByID(ctx context.Context, evidenceID uint) (*Evidence, error) {
	var ev Evidence
	if err := s.db.WithContext(ctx).First(&ev, evidenceID).Error; err != nil {
		return nil, errors.Wrapf(err, "load evidence %d", evidenceID)
	}
	return &ev, nil
}
