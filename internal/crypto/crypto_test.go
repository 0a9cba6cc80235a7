package crypto

import (
	"encoding/base64"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
	"github.com/shopspring/decimal"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	key, err := GenerateKey()
	assert.Nil(t, err)
	svc, err := NewService(key)
	assert.Nil(t, err)
	return svc
}

func TestEncryptDecryptAmount(t *testing.T) {
	svc := newTestService(t)

	amount := decimal.RequireFromString("150.50")
	blob, err := svc.EncryptAmount(amount)
	assert.Nil(t, err)
	check.NotEqual(t, "", blob)
	check.NotEqual(t, amount.String(), blob)

	got, err := svc.DecryptAmount(blob)
	assert.Nil(t, err)
	check.True(t, amount.Equal(got))
}

func TestEncryptProducesDistinctBlobs(t *testing.T) {
	svc := newTestService(t)

	amount := decimal.NewFromInt(50)
	first, err := svc.EncryptAmount(amount)
	assert.Nil(t, err)
	second, err := svc.EncryptAmount(amount)
	assert.Nil(t, err)

	// Random nonce per encryption: equal amounts must not be recognizable
	// by comparing ciphertexts.
	check.NotEqual(t, first, second)
}

func TestDecryptRejectsTamperedPayload(t *testing.T) {
	svc := newTestService(t)

	blob, err := svc.EncryptAmount(decimal.NewFromInt(75))
	assert.Nil(t, err)

	raw, err := base64.StdEncoding.DecodeString(blob)
	assert.Nil(t, err)
	raw[len(raw)-1] ^= 0xFF
	tampered := base64.StdEncoding.EncodeToString(raw)

	_, err = svc.DecryptAmount(tampered)
	check.NotNil(t, err)
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	svc := newTestService(t)
	other := newTestService(t)

	blob, err := svc.EncryptAmount(decimal.NewFromInt(75))
	assert.Nil(t, err)

	_, err = other.DecryptAmount(blob)
	check.NotNil(t, err)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.DecryptAmount("not base64!!!")
	check.NotNil(t, err)

	_, err = svc.DecryptAmount(base64.StdEncoding.EncodeToString([]byte("short")))
	check.NotNil(t, err)
}

func TestNewServiceRejectsBadKeys(t *testing.T) {
	_, err := NewService("too-short")
	check.NotNil(t, err)

	_, err = NewService(base64.StdEncoding.EncodeToString([]byte("sixteen-byte-key")))
	check.NotNil(t, err)
}
