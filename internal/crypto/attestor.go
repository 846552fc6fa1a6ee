// Package crypto provides attestation verification for the price oracle's
// off-chain data feed and encrypted key storage for operator keys.
package crypto

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Scheme identifies the signature scheme an attestor key is registered
// under.
type Scheme string

const (
	// SchemeEd25519 is the default enclave scheme: Ed25519 over the raw
	// intent message bytes.
	SchemeEd25519 Scheme = "ed25519"
	// SchemeSecp256k1 verifies a 64-byte compact secp256k1 signature over
	// the keccak256 digest of the intent message.
	SchemeSecp256k1 Scheme = "secp256k1"
)

// IntentScope separates signed payload domains so a signature produced for
// one purpose can never be replayed under another.
type IntentScope byte

const (
	// IntentProcessData covers attested engagement-metrics payloads.
	IntentProcessData IntentScope = 0
)

const (
	ed25519SigLen = ed25519.SignatureSize
	secpSigLen    = 64
	secpPubLen    = 33 // compressed
)

var (
	errBadKeyLen = errors.New("bad public key length")
	errBadSigLen = errors.New("bad signature length")
)

// EncodeIntent builds the canonical intent message the attestor signs:
// scope byte, little-endian timestamp in milliseconds, then the payload
// bytes verbatim. The verifier reconstructs exactly these bytes from the
// submitted fields; any divergence fails the signature check.
func EncodeIntent(scope IntentScope, timestampMs uint64, payload []byte) []byte {
	buf := bytes.NewBuffer(make([]byte, 0, 9+len(payload)))
	buf.WriteByte(byte(scope))
	var ts [8]byte
	binary.LittleEndian.PutUint64(ts[:], timestampMs)
	buf.Write(ts[:])
	buf.Write(payload)
	return buf.Bytes()
}

// ValidateKey checks that pubKey has the exact length the scheme expects.
func ValidateKey(scheme Scheme, pubKey []byte) error {
	switch scheme {
	case SchemeEd25519:
		if len(pubKey) != ed25519.PublicKeySize {
			return fmt.Errorf("crypto: ed25519 key %d bytes: %w", len(pubKey), errBadKeyLen)
		}
		return nil
	case SchemeSecp256k1:
		if len(pubKey) != secpPubLen {
			return fmt.Errorf("crypto: secp256k1 key %d bytes: %w", len(pubKey), errBadKeyLen)
		}
		return nil
	default:
		return fmt.Errorf("crypto: unknown scheme %q", scheme)
	}
}

// VerifyIntent checks signature material lengths for the scheme and then
// cryptographically verifies sig over msg with pubKey. A nil error means
// the signature is genuine.
func VerifyIntent(scheme Scheme, pubKey, msg, sig []byte) error {
	switch scheme {
	case SchemeEd25519:
		if len(pubKey) != ed25519.PublicKeySize {
			return fmt.Errorf("crypto: ed25519 key %d bytes: %w", len(pubKey), errBadKeyLen)
		}
		if len(sig) != ed25519SigLen {
			return fmt.Errorf("crypto: ed25519 signature %d bytes: %w", len(sig), errBadSigLen)
		}
		if !ed25519.Verify(ed25519.PublicKey(pubKey), msg, sig) {
			return errors.New("crypto: ed25519 signature mismatch")
		}
		return nil

	case SchemeSecp256k1:
		if len(pubKey) != secpPubLen {
			return fmt.Errorf("crypto: secp256k1 key %d bytes: %w", len(pubKey), errBadKeyLen)
		}
		if len(sig) != secpSigLen {
			return fmt.Errorf("crypto: secp256k1 signature %d bytes: %w", len(sig), errBadSigLen)
		}
		digest := ethcrypto.Keccak256(msg)
		if !ethcrypto.VerifySignature(pubKey, digest, sig) {
			return errors.New("crypto: secp256k1 signature mismatch")
		}
		return nil

	default:
		return fmt.Errorf("crypto: unknown scheme %q", scheme)
	}
}

// SignIntent produces a signature over msg with the given scheme. privKey is
// an ed25519 private key or a 32-byte secp256k1 scalar. Used by the keygen
// tool and by tests; the production signer lives in the off-chain enclave.
func SignIntent(scheme Scheme, privKey, msg []byte) ([]byte, error) {
	switch scheme {
	case SchemeEd25519:
		if len(privKey) != ed25519.PrivateKeySize {
			return nil, fmt.Errorf("crypto: ed25519 private key %d bytes: %w", len(privKey), errBadKeyLen)
		}
		return ed25519.Sign(ed25519.PrivateKey(privKey), msg), nil

	case SchemeSecp256k1:
		pk, err := ethcrypto.ToECDSA(privKey)
		if err != nil {
			return nil, fmt.Errorf("crypto: secp256k1 private key: %w", err)
		}
		digest := ethcrypto.Keccak256(msg)
		sig, err := ethcrypto.Sign(digest, pk)
		if err != nil {
			return nil, fmt.Errorf("crypto: secp256k1 sign: %w", err)
		}
		// Drop the recovery byte; verification uses the registered key.
		return sig[:secpSigLen], nil

	default:
		return nil, fmt.Errorf("crypto: unknown scheme %q", scheme)
	}
}

// EventID derives a stable engagement-event identifier from its parts using
// keccak256. The rewards registry fences duplicate payouts on this id.
func EventID(parts ...[]byte) [32]byte {
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(parts...))
	return id
}
