// Package crypto implements ports.SessionCodec: X25519 key agreement with
// the vehicle, an HKDF-SHA256 session key, and ChaCha20-Poly1305
// authentication of every signed command.
//
// Example:
//
//	priv, err := crypto.LoadOrCreateKey("/var/lib/keylink/key")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	codec, err := crypto.NewCodec(priv)
package crypto
