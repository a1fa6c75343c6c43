// Package keyring derives ledger accounts from BIP39 mnemonics.
//
// Keys follow BIP32/BIP44 over secp256k1. Addresses are the bech32 encoding
// of RIPEMD160(SHA256(compressed public key)).
package keyring

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/decred/dcrd/bech32"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/ripemd160" //nolint:staticcheck // address format requires RIPEMD-160

	"github.com/aescanero/runnerd/internal/domain"
)

// DefaultPath is the HD path used when none is configured.
const DefaultPath = "m/44'/470'/0'/0/0"

// Keyring derives accounts for one address prefix and HD path.
type Keyring struct {
	prefix string
	path   []uint32
}

// New creates a keyring. path uses the usual m/44'/... notation.
func New(prefix, path string) (*Keyring, error) {
	if strings.TrimSpace(prefix) == "" {
		return nil, fmt.Errorf("bech32 prefix is required")
	}
	if path == "" {
		path = DefaultPath
	}
	indexes, err := parsePath(path)
	if err != nil {
		return nil, err
	}
	return &Keyring{prefix: prefix, path: indexes}, nil
}

// Derive returns the account for mnemonic.
func (k *Keyring) Derive(mnemonic string) (*domain.Account, error) {
	seed, err := bip39.NewSeedWithErrorChecking(strings.TrimSpace(mnemonic), "")
	if err != nil {
		return nil, fmt.Errorf("invalid mnemonic: %w", err)
	}

	// The network only selects serialization version bytes, which are
	// never exported here.
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("failed to create master key: %w", err)
	}
	for _, index := range k.path {
		key, err = key.Derive(index)
		if err != nil {
			return nil, fmt.Errorf("failed to derive key at index %d: %w", index, err)
		}
	}

	priv, err := key.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("failed to get private key: %w", err)
	}
	pub := priv.PubKey().SerializeCompressed()
	address, err := Address(k.prefix, pub)
	if err != nil {
		return nil, err
	}

	return &domain.Account{
		Address:    address,
		PublicKey:  pub,
		PrivateKey: priv.Serialize(),
	}, nil
}

// Address encodes a compressed public key as a bech32 address.
func Address(prefix string, pubKey []byte) (string, error) {
	sha := sha256.Sum256(pubKey)
	hasher := ripemd160.New()
	hasher.Write(sha[:])
	data, err := bech32.ConvertBits(hasher.Sum(nil), 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("failed to convert address bits: %w", err)
	}
	address, err := bech32.Encode(prefix, data)
	if err != nil {
		return "", fmt.Errorf("failed to encode address: %w", err)
	}
	return address, nil
}

// aminoPubKeyPrefix is the amino registration prefix of secp256k1 public keys.
var aminoPubKeyPrefix = []byte{0xeb, 0x5a, 0xe9, 0x87, 0x21}

// PubKeyString encodes a compressed public key as "<prefix>pub1...", the form
// execution backends list as authorized keys.
func PubKeyString(prefix string, pubKey []byte) (string, error) {
	if len(pubKey) != secp256k1.PubKeyBytesLenCompressed {
		return "", fmt.Errorf("public key must be %d bytes, got %d", secp256k1.PubKeyBytesLenCompressed, len(pubKey))
	}
	data, err := bech32.ConvertBits(append(append([]byte{}, aminoPubKeyPrefix...), pubKey...), 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("failed to convert public key bits: %w", err)
	}
	encoded, err := bech32.Encode(prefix+"pub", data)
	if err != nil {
		return "", fmt.Errorf("failed to encode public key: %w", err)
	}
	return encoded, nil
}

// ParsePubKeyString reverses PubKeyString and returns the prefix with it.
func ParsePubKeyString(encoded string) (string, []byte, error) {
	hrp, data, err := bech32.Decode(encoded)
	if err != nil {
		return "", nil, fmt.Errorf("failed to decode public key: %w", err)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", nil, fmt.Errorf("failed to convert public key bits: %w", err)
	}
	if len(raw) != len(aminoPubKeyPrefix)+secp256k1.PubKeyBytesLenCompressed || !bytes.HasPrefix(raw, aminoPubKeyPrefix) {
		return "", nil, fmt.Errorf("not a secp256k1 public key")
	}
	return strings.TrimSuffix(hrp, "pub"), raw[len(aminoPubKeyPrefix):], nil
}

func parsePath(path string) ([]uint32, error) {
	parts := strings.Split(strings.TrimSpace(path), "/")
	if len(parts) == 0 || parts[0] != "m" {
		return nil, fmt.Errorf("invalid HD path %q: must start with m", path)
	}

	indexes := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := strings.HasSuffix(part, "'")
		part = strings.TrimSuffix(part, "'")
		n, err := strconv.ParseUint(part, 10, 31)
		if err != nil {
			return nil, fmt.Errorf("invalid HD path %q: %w", path, err)
		}
		index := uint32(n)
		if hardened {
			index += hdkeychain.HardenedKeyStart
		}
		indexes = append(indexes, index)
	}
	return indexes, nil
}
