package crypto

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealOpenKey(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	blob, err := SealKey(key, "hunter2")
	require.NoError(t, err)

	got, err := OpenKey(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, ethcrypto.FromECDSA(key), ethcrypto.FromECDSA(got))

	_, err = OpenKey(blob, "wrong")
	assert.Error(t, err)
}

func TestLoadKeySources(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + common.Bytes2Hex(ethcrypto.FromECDSA(key))

	got, err := LoadKey(KeyConfig{RawPrivateKey: hexKey})
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey, got.PublicKey)

	blob, err := SealKey(key, "pw")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "operator.json")
	require.NoError(t, os.WriteFile(path, blob, 0o600))

	got, err = LoadKey(KeyConfig{KeyFile: path, KeyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey, got.PublicKey)

	_, err = LoadKey(KeyConfig{})
	assert.ErrorIs(t, err, ErrNoKey)
}

func TestSignTxRecoversSender(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	s := NewSigner(key, 167012)

	tx := types.NewTx(&types.LegacyTx{Nonce: 1, GasPrice: big.NewInt(1), Gas: 21000, Value: big.NewInt(0)})
	signed, err := s.SignTx(tx)
	require.NoError(t, err)

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(167012)), signed)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), from)
}

func TestMessageSignature(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	s := NewSigner(key, 1)

	sig, err := s.SignMessage([]byte("insightra login"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sig[64], byte(27))

	addr, err := RecoverMessage([]byte("insightra login"), sig)
	require.NoError(t, err)
	assert.Equal(t, s.Address(), addr)

	other, err := RecoverMessage([]byte("other"), sig)
	require.NoError(t, err)
	assert.NotEqual(t, s.Address(), other)

	_, err = RecoverMessage([]byte("x"), sig[:10])
	assert.Error(t, err)
}

func TestRandomSaltDiffers(t *testing.T) {
	a, err := RandomSalt()
	require.NoError(t, err)
	b, err := RandomSalt()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestWebhookSigner(t *testing.T) {
	w := NewWebhookSigner("s3cret")
	now := time.Unix(1_700_000_000, 0)
	w.now = func() time.Time { return now }
	body := []byte(`{"kind":"question.finalized"}`)

	h := w.Headers(body)
	ts, sig := h[HeaderWebhookTimestamp], h[HeaderWebhookSignature]
	assert.Equal(t, "1700000000", ts)
	assert.NoError(t, w.Verify(body, ts, sig, time.Minute))
	assert.Error(t, w.Verify([]byte("tampered"), ts, sig, time.Minute))

	now = now.Add(time.Hour)
	assert.Error(t, w.Verify(body, ts, sig, time.Minute))
	assert.NotContains(t, w.String(), "s3cret")
}
