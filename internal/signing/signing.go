// Package signing produces and checks secp256k1 ECDSA signatures over
// SHA-256 digests. Signatures are the 64-byte compact form R || S with a
// low S value, and are deterministic (RFC 6979).
package signing

import (
	"crypto/sha256"
	"fmt"
	"strconv"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/aescanero/runnerd/internal/canonical"
	"github.com/aescanero/runnerd/internal/domain"
)

// SignatureSize is the length of a compact signature.
const SignatureSize = 64

// Digest hashes data with SHA-256.
func Digest(data []byte) [32]byte {
	return sha256.Sum256(data)
}

// Sign signs digest with a raw 32-byte private key.
func Sign(privateKey []byte, digest [32]byte) ([]byte, error) {
	if len(privateKey) != secp256k1.PrivKeyBytesLen {
		return nil, &domain.SignatureError{Reason: fmt.Sprintf("private key must be %d bytes, got %d", secp256k1.PrivKeyBytesLen, len(privateKey))}
	}
	priv := secp256k1.PrivKeyFromBytes(privateKey)
	defer priv.Zero()

	// SignCompact prefixes the recovery code; the ledger wants R || S only.
	compact := ecdsa.SignCompact(priv, digest[:], true)
	return compact[1:], nil
}

// Verify checks a compact signature against a compressed public key.
func Verify(publicKey []byte, digest [32]byte, signature []byte) error {
	if len(signature) != SignatureSize {
		return &domain.SignatureError{Reason: fmt.Sprintf("signature must be %d bytes, got %d", SignatureSize, len(signature))}
	}
	pub, err := secp256k1.ParsePubKey(publicKey)
	if err != nil {
		return &domain.SignatureError{Reason: "invalid public key", Err: err}
	}

	var r, s secp256k1.ModNScalar
	if overflow := r.SetByteSlice(signature[:32]); overflow {
		return &domain.SignatureError{Reason: "signature R overflows curve order"}
	}
	if overflow := s.SetByteSlice(signature[32:]); overflow {
		return &domain.SignatureError{Reason: "signature S overflows curve order"}
	}
	if !ecdsa.NewSignature(&r, &s).Verify(digest[:], pub) {
		return &domain.SignatureError{Reason: "signature does not match digest"}
	}
	return nil
}

type signDoc struct {
	AccountNumber string       `json:"account_number"`
	ChainID       string       `json:"chain_id"`
	Fee           domain.Fee   `json:"fee"`
	Memo          string       `json:"memo"`
	Msgs          []domain.Msg `json:"msgs"`
	Sequence      string       `json:"sequence"`
}

// SignBytes builds the canonical sign document of a transaction. Signer and
// ledger must compute identical bytes.
func SignBytes(chainID string, accountNumber, sequence uint64, fee domain.Fee, msgs []domain.Msg, memo string) ([]byte, error) {
	doc := signDoc{
		AccountNumber: strconv.FormatUint(accountNumber, 10),
		ChainID:       chainID,
		Fee:           fee,
		Memo:          memo,
		Msgs:          msgs,
		Sequence:      strconv.FormatUint(sequence, 10),
	}
	if doc.Fee.Amount == nil {
		doc.Fee.Amount = []domain.Coin{}
	}
	return canonical.Marshal(doc)
}
