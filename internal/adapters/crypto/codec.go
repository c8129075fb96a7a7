package crypto

import (
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/bft-labs/keylink/internal/domain"
)

// Codec is the controller's ports.SessionCodec. It holds the controller key
// pair and one AEAD per established domain session. It is not safe for
// concurrent use.
type Codec struct {
	private []byte
	public  []byte
	aeads   map[domain.Domain]cipher.AEAD
	rand    io.Reader
}

// NewCodec creates a codec for the controller private key priv.
func NewCodec(priv []byte) (*Codec, error) {
	pub, err := PublicKey(priv)
	if err != nil {
		return nil, err
	}
	return &Codec{
		private: append([]byte(nil), priv...),
		public:  pub,
		aeads:   make(map[domain.Domain]cipher.AEAD),
		rand:    rand.Reader,
	}, nil
}

// Public returns the controller public key.
func (c *Codec) Public() []byte {
	return append([]byte(nil), c.public...)
}

// BuildHandshakeRequest returns the controller public key.
func (c *Codec) BuildHandshakeRequest(d domain.Domain) ([]byte, error) {
	if !d.RequiresSession() {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnknownDomain, d)
	}
	return c.Public(), nil
}

// ValidateHandshakeResponse parses session info from d and derives the
// session key from it.
func (c *Codec) ValidateHandshakeResponse(d domain.Domain, info []byte) (domain.SessionMaterial, error) {
	si, err := DecodeSessionInfo(info)
	if err != nil {
		return domain.SessionMaterial{}, err
	}
	if si.Status == SessionInfoKeyNotOnWhitelist {
		return domain.SessionMaterial{}, fmt.Errorf("%s: %w", d, domain.ErrKeyNotPaired)
	}
	if si.Status != SessionInfoOK {
		return domain.SessionMaterial{}, fmt.Errorf("%w: session info status %d", domain.ErrDecode, si.Status)
	}
	m := domain.SessionMaterial{
		Counter:   si.Counter,
		Epoch:     si.Epoch,
		PeerKey:   si.PublicKey,
		ClockTime: si.ClockTime,
	}
	if err := c.Restore(d, m); err != nil {
		return domain.SessionMaterial{}, err
	}
	return m, nil
}

// Restore derives the session key for persisted material.
func (c *Codec) Restore(d domain.Domain, m domain.SessionMaterial) error {
	if len(m.Epoch) != EpochSize {
		return fmt.Errorf("%w: epoch is %d bytes", domain.ErrDecode, len(m.Epoch))
	}
	key, err := DeriveKey(c.private, m.PeerKey)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrBadSignature, err)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return err
	}
	c.aeads[d] = aead
	return nil
}

// Sign increments the counter in m and seals payload under it. The
// ciphertext becomes the body and the authentication tag goes into the
// signature data.
func (c *Codec) Sign(d domain.Domain, m *domain.SessionMaterial, payload []byte) (domain.Signed, error) {
	aead, ok := c.aeads[d]
	if !ok {
		if err := c.Restore(d, *m); err != nil {
			return domain.Signed{}, err
		}
		aead = c.aeads[d]
	}

	m.Counter++
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return domain.Signed{}, fmt.Errorf("nonce: %w", err)
	}
	sealed := aead.Seal(nil, nonce, payload, additionalData(d, m.Epoch, m.Counter))
	split := len(sealed) - aead.Overhead()

	return domain.Signed{
		Body: sealed[:split],
		SignatureData: EncodeSignature(Signature{
			Signer:  c.public,
			Epoch:   m.Epoch,
			Nonce:   nonce,
			Counter: m.Counter,
			Tag:     sealed[split:],
		}),
	}, nil
}

// Open verifies and decrypts a command signed for d with key. It is the
// vehicle side of Sign.
func Open(key []byte, d domain.Domain, body []byte, sig Signature) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	if len(sig.Nonce) != aead.NonceSize() || len(sig.Tag) != aead.Overhead() {
		return nil, fmt.Errorf("%w: malformed signature data", domain.ErrBadSignature)
	}
	sealed := make([]byte, 0, len(body)+len(sig.Tag))
	sealed = append(sealed, body...)
	sealed = append(sealed, sig.Tag...)
	payload, err := aead.Open(nil, sig.Nonce, sealed, additionalData(d, sig.Epoch, sig.Counter))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrBadSignature, err)
	}
	return payload, nil
}
