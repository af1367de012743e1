package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// EventType classifies a lifecycle event. Values match the registry
// contract's EventType enum names.
type EventType string

const (
	EventMaintenance   EventType = "MAINTENANCE"
	EventVerification  EventType = "VERIFICATION"
	EventWarranty      EventType = "WARRANTY"
	EventCertification EventType = "CERTIFICATION"
	// EventCustom exists for user-submitted evidence; the oracle pipeline
	// never produces it.
	EventCustom EventType = "CUSTOM"
)

// Valid reports whether t is a known classification.
func (t EventType) Valid() bool {
	switch t {
	case EventMaintenance, EventVerification, EventWarranty, EventCertification, EventCustom:
		return true
	}
	return false
}

// ProcessingStatus tracks one service record's attestation attempt.
// COMPLETED and FAILED are terminal.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "PENDING"
	StatusProcessing ProcessingStatus = "PROCESSING"
	StatusCompleted  ProcessingStatus = "COMPLETED"
	StatusFailed     ProcessingStatus = "FAILED"
)

// EvidenceStatus marks whether an evidence row is anchored on-chain.
type EvidenceStatus string

const (
	EvidencePending   EvidenceStatus = "PENDING"
	EvidenceConfirmed EvidenceStatus = "CONFIRMED"
)

// ServiceRecord is a provider-submitted claim about work done on an asset.
// Rows are created by the provider-facing service; this worker only reads
// them.
type ServiceRecord struct {
	ID       uint   `gorm:"primaryKey"`
	RecordID string `gorm:"uniqueIndex;size:255;not null"`

	AssetID    uint64 `gorm:"index;not null"`
	ProviderID string `gorm:"index;size:255;not null"`

	EventType EventType `gorm:"size:20;not null"`
	EventName string    `gorm:"size:255;not null"`

	ServiceDate     string `gorm:"size:10;not null"` // YYYY-MM-DD
	TechnicianName  string `gorm:"size:255"`
	TechnicianNotes string `gorm:"type:text"`

	WorkPerformed StringList `gorm:"type:text"`
	PartsReplaced PartList   `gorm:"type:text"`

	Verified bool `gorm:"not null;default:true"`

	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt *time.Time
}

func (ServiceRecord) TableName() string { return "service_records" }

// ProcessedServiceRecord is the state-machine row tracking one service
// record's trip through the pipeline. At most one exists per service record;
// its existence, regardless of status, removes the record from the locator's
// result set.
type ProcessedServiceRecord struct {
	ID              uint             `gorm:"primaryKey"`
	ServiceRecordID uint             `gorm:"index;not null"`
	ProviderID      string           `gorm:"size:255;not null"`
	Status          ProcessingStatus `gorm:"index;size:20;not null;default:PENDING"`

	EvidenceID        *uint
	BlockchainEventID *uint64
	TxHash            *string `gorm:"size:66"`
	ErrorMessage      string  `gorm:"type:text"`

	CreatedAt   time.Time `gorm:"not null"`
	ProcessedAt *time.Time
}

func (ProcessedServiceRecord) TableName() string { return "processed_service_records" }

// Evidence mirrors an on-chain attested event. The oracle pipeline is the
// sole writer of CONFIRMED, verified rows; a sibling API path creates
// user-submitted evidence directly.
type Evidence struct {
	ID uint `gorm:"primaryKey"`

	AssetID  uint64 `gorm:"index;not null"`
	DataHash string `gorm:"uniqueIndex;size:66;not null"`

	ServiceRecordID *uint

	EventType    EventType `gorm:"size:20;not null"`
	EventDate    string    `gorm:"size:10"`
	ProviderName string    `gorm:"size:255"`
	Description  string    `gorm:"type:text"`

	EventData JSONMap `gorm:"type:text"`

	Status EvidenceStatus `gorm:"size:20;not null;default:PENDING"`

	IsVerified        bool   `gorm:"not null;default:false"`
	VerifiedBy        string `gorm:"size:42"`
	BlockchainEventID *uint64
	TxHash            *string `gorm:"size:66"`

	CreatedBy   string    `gorm:"size:42;not null"`
	CreatedAt   time.Time `gorm:"not null"`
	ConfirmedAt *time.Time
	VerifiedAt  *time.Time
}

func (Evidence) TableName() string { return "evidence" }

// ServiceProvider is the directory row mapping a provider id to its display
// name. Owned by the provider-facing service; read-only here.
type ServiceProvider struct {
	ID           uint   `gorm:"primaryKey"`
	ProviderID   string `gorm:"uniqueIndex;size:255;not null"`
	ProviderName string `gorm:"size:255;not null"`
	ProviderType string `gorm:"size:50"`
	IsTrusted    bool   `gorm:"not null;default:true"`
	CreatedAt    time.Time
}

func (ServiceProvider) TableName() string { return "service_providers" }

// Part describes one replaced component inside a service record.
type Part struct {
	Name       string `json:"name"`
	PartNumber string `json:"partNumber,omitempty"`
	Quantity   int    `json:"quantity,omitempty"`
}

// StringList stores a []string as a JSON text column.
type StringList []string

func (l StringList) Value() (driver.Value, error) { return jsonColumnValue(l) }

func (l *StringList) Scan(src any) error { return jsonColumnScan(src, l) }

// PartList stores a []Part as a JSON text column.
type PartList []Part

func (l PartList) Value() (driver.Value, error) { return jsonColumnValue(l) }

func (l *PartList) Scan(src any) error { return jsonColumnScan(src, l) }

// JSONMap stores a free-form object as a JSON text column.
type JSONMap map[string]any

func (m JSONMap) Value() (driver.Value, error) { return jsonColumnValue(m) }

func (m *JSONMap) Scan(src any) error { return jsonColumnScan(src, m) }

func jsonColumnValue(v any) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func jsonColumnScan(src, dst any) error {
	switch raw := src.(type) {
	case nil:
		return nil
	case []byte:
		if len(raw) == 0 {
			return nil
		}
		return json.Unmarshal(raw, dst)
	case string:
		if raw == "" {
			return nil
		}
		return json.Unmarshal([]byte(raw), dst)
	default:
		return fmt.Errorf("unsupported JSON column source type %T", src)
	}
}
