// Package verifier drives one service record through the attestation
// pipeline: claim, validate, hash, sign, submit, persist. Each record is
// attested at most once; the claim written by Begin is the sole concurrency
// guard, so it happens before any externally visible side effect.
package verifier

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-sql/civil"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/veripass/oracle/internal/canonical"
	"github.com/veripass/oracle/internal/registry"
	"github.com/veripass/oracle/internal/store"
)

// defaultNotes substitutes for absent technician notes in the composed
// description, matching what providers see in the evidence timeline.
const defaultNotes = "Service completed"

// Ledger submits a signed attestation and blocks until confirmation.
type Ledger interface {
	SubmitVerifiedEvent(ctx context.Context, assetID uint64, eventType store.EventType, dataHash common.Hash, signature []byte) (*registry.SubmitResult, error)
}

// Signer produces ledger-verifiable signatures over content digests.
type Signer interface {
	SignPersonal(digest []byte) ([]byte, error)
	Address() common.Address
}

// Verifier orchestrates the per-record pipeline.
type Verifier struct {
	store  *store.Store
	ledger Ledger
	signer Signer
	logger *zap.Logger
}

type Params struct {
	Store  *store.Store
	Ledger Ledger
	Signer Signer
	Logger *zap.Logger
}

func New(p Params) *Verifier {
	return &Verifier{
		store:  p.Store,
		ledger: p.Ledger,
		signer: p.Signer,
		logger: p.Logger.Named("verifier"),
	}
}

// attestationPayload is the exact canonical shape covered by the content
// hash. Field names and nesting are part of the hash contract: any party
// recomputing the hash must assemble this same structure.
type attestationPayload struct {
	AssetID      uint64    `json:"assetId"`
	EventType    string    `json:"eventType"`
	EventDate    string    `json:"eventDate"`
	ProviderName string    `json:"providerName"`
	Description  string    `json:"description"`
	Notes        string    `json:"notes"`
	EventData    eventData `json:"eventData"`
}

type eventData struct {
	EventName       string       `json:"eventName"`
	TechnicianName  *string      `json:"technicianName"`
	TechnicianNotes *string      `json:"technicianNotes"`
	WorkPerformed   []string     `json:"workPerformed"`
	PartsReplaced   []store.Part `json:"partsReplaced"`
	ServiceRecordID string       `json:"serviceRecordId"`
	VerifiedBy      string       `json:"verifiedBy"`
}

// attestOutcome carries the results of a successful submission into the
// persistence step.
type attestOutcome struct {
	payload  attestationPayload
	dataHash common.Hash
	submit   *registry.SubmitResult
}

// Process runs the pipeline for one record. Pipeline failures are absorbed:
// they produce a terminal FAILED entry and a nil return. The only errors
// returned are storage failures while writing the terminal result itself,
// which the tick's caller logs and leaves for the next interval.
func (v *Verifier) Process(ctx context.Context, record store.ServiceRecord) error {
	logger := v.logger.With(
		zap.String("record_id", record.RecordID),
		zap.Uint64("asset_id", record.AssetID),
		zap.String("event_type", string(record.EventType)))

	logger.Info("processing service record", zap.String("event_name", record.EventName))

	// Claim before any externally visible side effect. If the claim itself
	// fails there is no entry to mark FAILED; the record stays unclaimed and
	// is retried on a later tick.
	entryID, err := v.store.Begin(ctx, record.ID, record.ProviderID)
	if err != nil {
		logger.Error("failed to claim service record", zap.Error(err))
		return nil
	}

	outcome, perr := v.attest(ctx, record)
	if perr != nil {
		logger.Warn("service record processing failed",
			zap.String("stage", perr.Stage),
			zap.Error(perr.Err))
		if err := v.store.Fail(ctx, entryID, perr.Message()); err != nil {
			return errors.Wrapf(err, "record failure for entry %d", entryID)
		}
		return nil
	}

	evidenceID, err := v.store.CreateOracleEvidence(ctx, v.buildEvidence(record, outcome))
	if err != nil {
		// The transaction is already on-chain; all we can do is record the
		// store failure on the entry so an operator reconciles it manually.
		logger.Error("failed to persist evidence for confirmed attestation",
			zap.String("tx_hash", outcome.submit.TxHash),
			zap.Error(err))
		if ferr := v.store.Fail(ctx, entryID, "store evidence: "+err.Error()); ferr != nil {
			return errors.Wrapf(ferr, "record failure for entry %d", entryID)
		}
		return nil
	}

	if err := v.store.Complete(ctx, entryID, evidenceID, outcome.submit.EventID, outcome.submit.TxHash); err != nil {
		return errors.Wrapf(err, "record completion for entry %d", entryID)
	}

	logger.Info("service record attested",
		zap.Uint("evidence_id", evidenceID),
		zap.Uint64("ledger_event_id", outcome.submit.EventID),
		zap.String("tx_hash", outcome.submit.TxHash))
	return nil
}

// attest runs validation through submission and reports the first failing
// stage as an explicit error value.
func (v *Verifier) attest(ctx context.Context, record store.ServiceRecord) (*attestOutcome, *StageError) {
	if !record.Verified {
		return nil, stageErr(stageValidation, ErrNotVerified)
	}
	switch record.EventType {
	case store.EventMaintenance, store.EventVerification, store.EventWarranty, store.EventCertification:
	default:
		return nil, stageErr(stageValidation, errors.Errorf("unsupported event type %q", record.EventType))
	}
	if _, err := civil.ParseDate(record.ServiceDate); err != nil {
		return nil, stageErr(stageValidation, errors.Errorf("invalid service date %q", record.ServiceDate))
	}

	providerName, err := v.store.ProviderName(ctx, record.ProviderID)
	if err != nil {
		return nil, stageErr(stageResolve, err)
	}

	payload := v.buildPayload(record, providerName)

	dataHash, err := canonical.Hash(payload)
	if err != nil {
		return nil, stageErr(stageHash, err)
	}

	signature, err := v.signer.SignPersonal(dataHash.Bytes())
	if err != nil {
		return nil, stageErr(stageSign, err)
	}

	result, err := v.ledger.SubmitVerifiedEvent(ctx, record.AssetID, record.EventType, dataHash, signature)
	if err != nil {
		return nil, stageErr(stageSubmit, err)
	}

	return &attestOutcome{payload: payload, dataHash: dataHash, submit: result}, nil
}

func (v *Verifier) buildPayload(record store.ServiceRecord, providerName string) attestationPayload {
	notes := record.TechnicianNotes
	description := record.EventName + " - " + defaultNotes
	if notes != "" {
		description = record.EventName + " - " + notes
	}

	return attestationPayload{
		AssetID:      record.AssetID,
		EventType:    string(record.EventType),
		EventDate:    record.ServiceDate,
		ProviderName: providerName,
		Description:  description,
		Notes:        notes,
		EventData: eventData{
			EventName:       record.EventName,
			TechnicianName:  nullable(record.TechnicianName),
			TechnicianNotes: nullable(record.TechnicianNotes),
			WorkPerformed:   record.WorkPerformed,
			PartsReplaced:   record.PartsReplaced,
			ServiceRecordID: record.RecordID,
			VerifiedBy:      v.signer.Address().Hex(),
		},
	}
}

func (v *Verifier) buildEvidence(record store.ServiceRecord, outcome *attestOutcome) store.Evidence {
	return store.Evidence{
		AssetID:           record.AssetID,
		DataHash:          outcome.dataHash.Hex(),
		ServiceRecordID:   &record.ID,
		EventType:         record.EventType,
		EventDate:         record.ServiceDate,
		ProviderName:      outcome.payload.ProviderName,
		Description:       outcome.payload.Description,
		EventData:         toJSONMap(outcome.payload.EventData),
		BlockchainEventID: &outcome.submit.EventID,
		TxHash:            &outcome.submit.TxHash,
		VerifiedBy:        v.signer.Address().Hex(),
		CreatedBy:         v.signer.Address().Hex(),
	}
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func toJSONMap(v any) store.JSONMap {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m store.JSONMap
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
