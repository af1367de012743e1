package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	return s
}

func seedRecord(t *testing.T, s *Store, recordID string) ServiceRecord {
	t.Helper()
	record := ServiceRecord{
		RecordID:        recordID,
		AssetID:         4,
		ProviderID:      "provider-a",
		EventType:       EventMaintenance,
		EventName:       "Routine Service",
		ServiceDate:     "2024-12-01",
		TechnicianName:  "J. Doe",
		TechnicianNotes: "Replaced battery",
		WorkPerformed:   StringList{"replaced battery", "cleaned fans"},
		PartsReplaced:   PartList{{Name: "Battery", PartNumber: "BAT-42", Quantity: 1}},
		Verified:        true,
	}
	require.NoError(t, s.db.Create(&record).Error)
	return record
}

func TestFindUnprocessed(t *testing.T) {
	ctx := context.Background()

	t.Run("EmptyStore", func(t *testing.T) {
		s := newTestStore(t)
		records, err := s.FindUnprocessed(ctx)
		require.NoError(t, err)
		assert.Empty(t, records)
	})

	t.Run("ReturnsRecordsInInsertionOrder", func(t *testing.T) {
		s := newTestStore(t)
		first := seedRecord(t, s, "SR-001")
		second := seedRecord(t, s, "SR-002")

		records, err := s.FindUnprocessed(ctx)
		require.NoError(t, err)
		require.Len(t, records, 2)
		assert.Equal(t, first.RecordID, records[0].RecordID)
		assert.Equal(t, second.RecordID, records[1].RecordID)
	})

	t.Run("ExcludesClaimedRecordsOfAnyStatus", func(t *testing.T) {
		s := newTestStore(t)
		completed := seedRecord(t, s, "SR-001")
		failed := seedRecord(t, s, "SR-002")
		processing := seedRecord(t, s, "SR-003")
		fresh := seedRecord(t, s, "SR-004")

		id, err := s.Begin(ctx, completed.ID, completed.ProviderID)
		require.NoError(t, err)
		require.NoError(t, s.Complete(ctx, id, 1, 7, "0xabc"))

		id, err = s.Begin(ctx, failed.ID, failed.ProviderID)
		require.NoError(t, err)
		require.NoError(t, s.Fail(ctx, id, "submission reverted"))

		_, err = s.Begin(ctx, processing.ID, processing.ProviderID)
		require.NoError(t, err)

		records, err := s.FindUnprocessed(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, fresh.RecordID, records[0].RecordID)
	})

	t.Run("RoundTripsJSONColumns", func(t *testing.T) {
		s := newTestStore(t)
		seedRecord(t, s, "SR-001")

		records, err := s.FindUnprocessed(ctx)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, StringList{"replaced battery", "cleaned fans"}, records[0].WorkPerformed)
		assert.Equal(t, PartList{{Name: "Battery", PartNumber: "BAT-42", Quantity: 1}}, records[0].PartsReplaced)
	})
}

func TestProcessingStateMachine(t *testing.T) {
	ctx := context.Background()

	t.Run("BeginCreatesProcessingEntry", func(t *testing.T) {
		s := newTestStore(t)
		record := seedRecord(t, s, "SR-001")

		id, err := s.Begin(ctx, record.ID, record.ProviderID)
		require.NoError(t, err)

		entry, err := s.ProcessingEntry(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusProcessing, entry.Status)
		assert.Equal(t, record.ID, entry.ServiceRecordID)
		assert.Equal(t, record.ProviderID, entry.ProviderID)
		assert.Nil(t, entry.ProcessedAt)
	})

	t.Run("CompleteStoresResults", func(t *testing.T) {
		s := newTestStore(t)
		record := seedRecord(t, s, "SR-001")
		id, err := s.Begin(ctx, record.ID, record.ProviderID)
		require.NoError(t, err)

		require.NoError(t, s.Complete(ctx, id, 11, 7, "0xdeadbeef"))

		entry, err := s.ProcessingEntry(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusCompleted, entry.Status)
		require.NotNil(t, entry.EvidenceID)
		assert.Equal(t, uint(11), *entry.EvidenceID)
		require.NotNil(t, entry.BlockchainEventID)
		assert.Equal(t, uint64(7), *entry.BlockchainEventID)
		require.NotNil(t, entry.TxHash)
		assert.Equal(t, "0xdeadbeef", *entry.TxHash)
		assert.NotNil(t, entry.ProcessedAt)
	})

	t.Run("FailStoresMessage", func(t *testing.T) {
		s := newTestStore(t)
		record := seedRecord(t, s, "SR-001")
		id, err := s.Begin(ctx, record.ID, record.ProviderID)
		require.NoError(t, err)

		require.NoError(t, s.Fail(ctx, id, "service record is not verified by provider"))

		entry, err := s.ProcessingEntry(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, entry.Status)
		assert.Equal(t, "service record is not verified by provider", entry.ErrorMessage)
		assert.NotNil(t, entry.ProcessedAt)
	})

	t.Run("TerminalStatesAreImmutable", func(t *testing.T) {
		s := newTestStore(t)
		record := seedRecord(t, s, "SR-001")

		completedID, err := s.Begin(ctx, record.ID, record.ProviderID)
		require.NoError(t, err)
		require.NoError(t, s.Complete(ctx, completedID, 1, 1, "0x01"))

		assert.Error(t, s.Complete(ctx, completedID, 2, 2, "0x02"))
		assert.Error(t, s.Fail(ctx, completedID, "late failure"))

		other := seedRecord(t, s, "SR-002")
		failedID, err := s.Begin(ctx, other.ID, other.ProviderID)
		require.NoError(t, err)
		require.NoError(t, s.Fail(ctx, failedID, "boom"))

		assert.Error(t, s.Fail(ctx, failedID, "boom again"))
		assert.Error(t, s.Complete(ctx, failedID, 1, 1, "0x01"))

		entry, err := s.ProcessingEntry(ctx, failedID)
		require.NoError(t, err)
		assert.Equal(t, StatusFailed, entry.Status)
		assert.Equal(t, "boom", entry.ErrorMessage)
	})

	t.Run("TransitioningUnknownEntryFails", func(t *testing.T) {
		s := newTestStore(t)
		assert.Error(t, s.Complete(ctx, 999, 1, 1, "0x01"))
		assert.Error(t, s.Fail(ctx, 999, "no such entry"))
	})
}

func TestCreateOracleEvidence(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	record := seedRecord(t, s, "SR-001")

	eventID := uint64(7)
	txHash := "0xfeed"
	id, err := s.CreateOracleEvidence(ctx, Evidence{
		AssetID:           record.AssetID,
		DataHash:          "0x1234",
		ServiceRecordID:   &record.ID,
		EventType:         record.EventType,
		EventDate:         record.ServiceDate,
		ProviderName:      "Acme Service Center",
		Description:       "Routine Service - Replaced battery",
		EventData:         JSONMap{"eventName": "Routine Service"},
		BlockchainEventID: &eventID,
		TxHash:            &txHash,
		VerifiedBy:        "0xoracle",
		CreatedBy:         "0xoracle",
	})
	require.NoError(t, err)

	ev, err := s.EvidenceByID(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, EvidenceConfirmed, ev.Status)
	assert.True(t, ev.IsVerified)
	assert.NotNil(t, ev.ConfirmedAt)
	assert.NotNil(t, ev.VerifiedAt)
	assert.Equal(t, "Acme Service Center", ev.ProviderName)
	assert.Equal(t, JSONMap{"eventName": "Routine Service"}, ev.EventData)
}

func TestProviderName(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	require.NoError(t, s.db.Create(&ServiceProvider{
		ProviderID:   "provider-a",
		ProviderName: "Acme Service Center",
		ProviderType: "service_center",
		IsTrusted:    true,
	}).Error)

	t.Run("ResolvesDisplayName", func(t *testing.T) {
		name, err := s.ProviderName(ctx, "provider-a")
		require.NoError(t, err)
		assert.Equal(t, "Acme Service Center", name)
	})

	t.Run("FallsBackToRawID", func(t *testing.T) {
		name, err := s.ProviderName(ctx, "provider-unknown")
		require.NoError(t, err)
		assert.Equal(t, "provider-unknown", name)
	})
}
