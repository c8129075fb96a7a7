package crypto

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bft-labs/keylink/internal/domain"
)

type vehicleKeys struct {
	private []byte
	public  []byte
}

func newVehicleKeys(t *testing.T) vehicleKeys {
	t.Helper()
	priv, err := GenerateKey()
	require.NoError(t, err)
	pub, err := PublicKey(priv)
	require.NoError(t, err)
	return vehicleKeys{private: priv, public: pub}
}

func newCodec(t *testing.T) *Codec {
	t.Helper()
	priv, err := GenerateKey()
	require.NoError(t, err)
	c, err := NewCodec(priv)
	require.NoError(t, err)
	return c
}

func sessionInfo(v vehicleKeys, counter uint32) []byte {
	return EncodeSessionInfo(SessionInfo{
		Counter:   counter,
		PublicKey: v.public,
		Epoch:     bytes.Repeat([]byte{7}, EpochSize),
		ClockTime: 1234,
	})
}

func TestHandshakeAndSign(t *testing.T) {
	c := newCodec(t)
	v := newVehicleKeys(t)

	pub, err := c.BuildHandshakeRequest(domain.DomainInfotainment)
	require.NoError(t, err)
	assert.Len(t, pub, KeySize)

	m, err := c.ValidateHandshakeResponse(domain.DomainInfotainment, sessionInfo(v, 41))
	require.NoError(t, err)
	assert.Equal(t, uint32(41), m.Counter)
	assert.Equal(t, uint32(1234), m.ClockTime)

	signed, err := c.Sign(domain.DomainInfotainment, &m, []byte("set charge limit"))
	require.NoError(t, err)
	assert.Equal(t, uint32(42), m.Counter)

	sig, err := DecodeSignature(signed.SignatureData)
	require.NoError(t, err)
	assert.Equal(t, uint32(42), sig.Counter)
	assert.Equal(t, pub, sig.Signer)

	key, err := DeriveKey(v.private, sig.Signer)
	require.NoError(t, err)
	payload, err := Open(key, domain.DomainInfotainment, signed.Body, sig)
	require.NoError(t, err)
	assert.Equal(t, []byte("set charge limit"), payload)
}

func TestOpenRejectsTampering(t *testing.T) {
	c := newCodec(t)
	v := newVehicleKeys(t)
	m, err := c.ValidateHandshakeResponse(domain.DomainVCSEC, sessionInfo(v, 0))
	require.NoError(t, err)

	signed, err := c.Sign(domain.DomainVCSEC, &m, []byte("unlock"))
	require.NoError(t, err)
	sig, err := DecodeSignature(signed.SignatureData)
	require.NoError(t, err)
	key, err := DeriveKey(v.private, c.Public())
	require.NoError(t, err)

	t.Run("counter", func(t *testing.T) {
		bad := sig
		bad.Counter++
		_, err := Open(key, domain.DomainVCSEC, signed.Body, bad)
		assert.ErrorIs(t, err, domain.ErrBadSignature)
	})

	t.Run("domain", func(t *testing.T) {
		_, err := Open(key, domain.DomainInfotainment, signed.Body, sig)
		assert.ErrorIs(t, err, domain.ErrBadSignature)
	})

	t.Run("body", func(t *testing.T) {
		body := append([]byte(nil), signed.Body...)
		body[0] ^= 0xff
		_, err := Open(key, domain.DomainVCSEC, body, sig)
		assert.ErrorIs(t, err, domain.ErrBadSignature)
	})
}

func TestValidateHandshakeResponseErrors(t *testing.T) {
	c := newCodec(t)
	v := newVehicleKeys(t)

	t.Run("not paired", func(t *testing.T) {
		info := EncodeSessionInfo(SessionInfo{Status: SessionInfoKeyNotOnWhitelist})
		_, err := c.ValidateHandshakeResponse(domain.DomainVCSEC, info)
		assert.ErrorIs(t, err, domain.ErrKeyNotPaired)
	})

	t.Run("short epoch", func(t *testing.T) {
		info := EncodeSessionInfo(SessionInfo{PublicKey: v.public, Epoch: []byte{1}})
		_, err := c.ValidateHandshakeResponse(domain.DomainVCSEC, info)
		assert.ErrorIs(t, err, domain.ErrDecode)
	})

	t.Run("bad peer key", func(t *testing.T) {
		info := EncodeSessionInfo(SessionInfo{PublicKey: []byte{1, 2}, Epoch: make([]byte, EpochSize)})
		_, err := c.ValidateHandshakeResponse(domain.DomainVCSEC, info)
		assert.ErrorIs(t, err, domain.ErrProtocol)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := c.ValidateHandshakeResponse(domain.DomainVCSEC, []byte{0x0a, 0x05})
		assert.ErrorIs(t, err, domain.ErrDecode)
	})
}

func TestRestoreThenSign(t *testing.T) {
	priv, err := GenerateKey()
	require.NoError(t, err)
	v := newVehicleKeys(t)

	first, err := NewCodec(priv)
	require.NoError(t, err)
	m, err := first.ValidateHandshakeResponse(domain.DomainVCSEC, sessionInfo(v, 5))
	require.NoError(t, err)

	second, err := NewCodec(priv)
	require.NoError(t, err)
	require.NoError(t, second.Restore(domain.DomainVCSEC, m))

	signed, err := second.Sign(domain.DomainVCSEC, &m, []byte("lock"))
	require.NoError(t, err)
	sig, err := DecodeSignature(signed.SignatureData)
	require.NoError(t, err)

	key, err := DeriveKey(v.private, second.Public())
	require.NoError(t, err)
	payload, err := Open(key, domain.DomainVCSEC, signed.Body, sig)
	require.NoError(t, err)
	assert.Equal(t, []byte("lock"), payload)
}

func TestLoadOrCreateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "key")

	created, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Len(t, created, KeySize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Equal(t, created, loaded)

	require.NoError(t, os.WriteFile(path, []byte("abcd\n"), 0o600))
	_, err = LoadOrCreateKey(path)
	assert.Error(t, err)
}
