package registry

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/veripass/oracle/internal/store"
)

// eventRegistryABIJSON is the subset of the EventRegistry contract interface
// this worker consumes: the attestation entrypoint, the oracle allowlist
// check, and the EventRecorded log it emits.
const eventRegistryABIJSON = `[
	{
		"type": "function",
		"name": "recordVerifiedEvent",
		"stateMutability": "nonpayable",
		"inputs": [
			{"name": "assetId", "type": "uint256"},
			{"name": "eventType", "type": "uint8"},
			{"name": "dataHash", "type": "bytes32"},
			{"name": "signature", "type": "bytes"}
		],
		"outputs": []
	},
	{
		"type": "function",
		"name": "isTrustedOracle",
		"stateMutability": "view",
		"inputs": [{"name": "oracle", "type": "address"}],
		"outputs": [{"name": "", "type": "bool"}]
	},
	{
		"type": "event",
		"name": "EventRecorded",
		"anonymous": false,
		"inputs": [
			{"name": "assetId", "type": "uint256", "indexed": true},
			{"name": "eventId", "type": "uint256", "indexed": true},
			{"name": "eventType", "type": "uint8", "indexed": false},
			{"name": "submitter", "type": "address", "indexed": false},
			{"name": "dataHash", "type": "bytes32", "indexed": false}
		]
	}
]`

var eventRegistryABI = mustParseABI(eventRegistryABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ContractEventType maps the semantic classification to the contract's
// fixed numeric encoding. Unknown values fall back to MAINTENANCE (0),
// matching the registry's zero value.
func ContractEventType(t store.EventType) uint8 {
	switch t {
	case store.EventMaintenance:
		return 0
	case store.EventVerification:
		return 1
	case store.EventWarranty:
		return 2
	case store.EventCertification:
		return 3
	case store.EventCustom:
		return 4
	default:
		return 0
	}
}

// parseEventID scans receipt logs for the registry's EventRecorded event and
// extracts the ledger-assigned event identifier from its second argument.
// Returns false when no matching log is present.
func parseEventID(receipt *types.Receipt) (uint64, bool) {
	recorded := eventRegistryABI.Events["EventRecorded"]
	for _, lg := range receipt.Logs {
		if len(lg.Topics) == 0 || lg.Topics[0] != recorded.ID {
			continue
		}
		// assetId and eventId are indexed: topics[1] and topics[2].
		if len(lg.Topics) < 3 {
			continue
		}
		return lg.Topics[2].Big().Uint64(), true
	}
	return 0, false
}
