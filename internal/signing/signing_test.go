package signing

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/runnerd/internal/domain"
)

func testKey(t *testing.T) ([]byte, []byte) {
	t.Helper()
	priv, err := secp256k1.GeneratePrivateKey()
	require.NoError(t, err)
	return priv.Serialize(), priv.PubKey().SerializeCompressed()
}

func TestSignVerifyRoundTrip(t *testing.T) {
	priv, pub := testKey(t)
	digest := Digest([]byte(`{"serviceHash":"a","envHash":"b"}`))

	sig, err := Sign(priv, digest)
	require.NoError(t, err)
	assert.Len(t, sig, SignatureSize)
	assert.NoError(t, Verify(pub, digest, sig))
}

func TestSignIsDeterministic(t *testing.T) {
	priv, _ := testKey(t)
	digest := Digest([]byte("payload"))

	first, err := Sign(priv, digest)
	require.NoError(t, err)
	second, err := Sign(priv, digest)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestVerifyRejectsOtherDigest(t *testing.T) {
	priv, pub := testKey(t)
	sig, err := Sign(priv, Digest([]byte("one")))
	require.NoError(t, err)

	err = Verify(pub, Digest([]byte("two")), sig)
	var sigErr *domain.SignatureError
	assert.ErrorAs(t, err, &sigErr)
}

func TestVerifyRejectsMalformedInput(t *testing.T) {
	_, pub := testKey(t)
	digest := Digest([]byte("x"))

	assert.Error(t, Verify(pub, digest, []byte{1, 2, 3}))
	assert.Error(t, Verify([]byte{0x02}, digest, make([]byte, SignatureSize)))

	_, err := Sign([]byte{1}, digest)
	assert.Error(t, err)
}
