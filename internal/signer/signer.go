// Package signer holds the oracle's secp256k1 signing key and produces
// EVM-compatible signatures over attestation digests.
package signer

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// OracleSigner signs attestation digests with the oracle's secp256k1 private
// key. Signatures are 65 bytes [R || S || V] with V normalized to {27,28} so
// the registry contract's ecrecover path accepts them.
type OracleSigner struct {
	privateKey *ecdsa.PrivateKey
}

// New creates an OracleSigner from a hex-encoded secp256k1 private key, with
// or without a 0x prefix.
func New(hexKey string) (*OracleSigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, fmt.Errorf("private key cannot be empty")
	}

	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &OracleSigner{privateKey: key}, nil
}

// SignDigest signs the provided 32-byte digest (already hashed) and returns a
// 65-byte EVM-compatible signature.
func (s *OracleSigner) SignDigest(digest []byte) ([]byte, error) {
	if len(digest) != crypto.DigestLength {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", crypto.DigestLength, len(digest))
	}

	signature, err := crypto.Sign(digest, s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("sign digest: %w", err)
	}

	// Convert V to EVM-compatible {27,28}.
	// crypto.Sign returns V in various forms ({0,1}, {27,28}, or {27+chainId*2, 28+chainId*2}).
	// Normalize: subtract 27 to get base form, mask to {0,1}, then add 27 for EVM format.
	v := signature[64]
	if v >= 27 {
		v -= 27
	}
	v &= 1
	signature[64] = v + 27
	return signature, nil
}

// SignPersonal signs the EIP-191 personal-message hash of the 32-byte content
// digest. This matches on-chain verification that recovers the signer from
// toEthSignedMessageHash(dataHash).
func (s *OracleSigner) SignPersonal(digest []byte) ([]byte, error) {
	if len(digest) != crypto.DigestLength {
		return nil, fmt.Errorf("digest must be %d bytes, got %d", crypto.DigestLength, len(digest))
	}
	return s.SignDigest(accounts.TextHash(digest))
}

// TransactOpts builds a keyed transactor for submitting ledger transactions
// on the given chain, keeping the private key encapsulated here.
func (s *OracleSigner) TransactOpts(chainID *big.Int) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.privateKey, chainID)
	if err != nil {
		return nil, fmt.Errorf("build keyed transactor: %w", err)
	}
	return opts, nil
}

// PublicKey returns the uncompressed public key bytes for verification.
func (s *OracleSigner) PublicKey() []byte {
	return crypto.FromECDSAPub(&s.privateKey.PublicKey)
}

// Address returns the Ethereum address derived from the public key.
func (s *OracleSigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.privateKey.PublicKey)
}
