package runner

import (
	"encoding/base64"
	"encoding/json"

	"github.com/aescanero/runnerd/internal/canonical"
	"github.com/aescanero/runnerd/internal/domain"
	"github.com/aescanero/runnerd/internal/signing"
)

// tokenDigest hashes the compact JSON of value, serviceHash first.
func tokenDigest(value domain.TokenValue) ([32]byte, error) {
	payload, err := canonical.Compact(value)
	if err != nil {
		return [32]byte{}, err
	}
	return signing.Digest(payload), nil
}

// IssueToken signs {serviceHash, envHash} with the account's key.
func IssueToken(account *domain.Account, serviceHash, envHash string) (domain.AuthToken, error) {
	value := domain.TokenValue{ServiceHash: serviceHash, EnvHash: envHash}
	digest, err := tokenDigest(value)
	if err != nil {
		return domain.AuthToken{}, &domain.SignatureError{Reason: "cannot encode token value", Err: err}
	}
	sig, err := signing.Sign(account.PrivateKey, digest)
	if err != nil {
		return domain.AuthToken{}, err
	}
	return domain.AuthToken{
		Signature: base64.StdEncoding.EncodeToString(sig),
		Value:     value,
	}, nil
}

// VerifyToken checks that token was signed by the holder of publicKey.
func VerifyToken(token domain.AuthToken, publicKey []byte) error {
	sig, err := base64.StdEncoding.DecodeString(token.Signature)
	if err != nil {
		return &domain.SignatureError{Reason: "signature is not base64", Err: err}
	}
	digest, err := tokenDigest(token.Value)
	if err != nil {
		return &domain.SignatureError{Reason: "cannot encode token value", Err: err}
	}
	return signing.Verify(publicKey, digest, sig)
}

// EncodeToken renders token as the JSON string passed to providers.
func EncodeToken(token domain.AuthToken) (string, error) {
	raw, err := canonical.Compact(token)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// DecodeToken parses a token produced by EncodeToken.
func DecodeToken(encoded string) (domain.AuthToken, error) {
	var token domain.AuthToken
	if err := json.Unmarshal([]byte(encoded), &token); err != nil {
		return domain.AuthToken{}, &domain.SignatureError{Reason: "malformed token", Err: err}
	}
	return token, nil
}
