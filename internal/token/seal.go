// Package token implements the Sealed Token Store (C1): authenticated
// encryption of per-job credential tuples, and a tamper-aware cache
// integrity wrapper used elsewhere in the service.
package token

import (
	"encoding/base64"
	"os"

	josecipher "github.com/go-jose/go-jose/v3"
	"gitlab.com/tozd/go/errors"
	"gitlab.com/tozd/go/x"
)

// EnvKey is the environment variable holding the 32-byte base64-encoded
// symmetric key. The process must refuse to start without it.
const EnvKey = "TOKEN_ENCRYPTION_KEY"

// ErrTampered is returned by Unseal when the ciphertext fails authentication
// — either corrupted or encrypted under a different key. It is the error the
// cache-integrity middleware (cache.go) treats as a GET miss.
var ErrTampered = errors.Base("sealed token authentication failed")

// Pair is the credential tuple a Sealer seals onto an upload_requests row:
// an access key and its secret.
type Pair struct {
	Key    string `json:"key"`
	Secret string `json:"secret"`
}

// Sealer seals and unseals Pairs with JWE, algorithm DIRECT, content
// encryption A256GCM — a symmetric authenticated-encryption construction
// equivalent in guarantees to the Fernet tokens this replaces.
type Sealer struct {
	key []byte
}

// NewSealer reads and decodes EnvKey from the environment. It errors (rather
// than silently generating a key) if the variable is missing or malformed,
// per the "process must refuse to start" requirement.
func NewSealer() (*Sealer, errors.E) {
	encoded := os.Getenv(EnvKey)
	if encoded == "" {
		return nil, errors.Errorf("%s environment variable is required", EnvKey)
	}
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, errors.Errorf("%s is not valid base64: %w", EnvKey, err)
	}
	if len(key) != 32 {
		return nil, errors.Errorf("%s must decode to 32 bytes, got %d", EnvKey, len(key))
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts pair into a compact JWE string.
func (s *Sealer) Seal(pair Pair) ([]byte, errors.E) {
	plaintext, errE := x.MarshalWithoutEscapeHTML(pair)
	if errE != nil {
		return nil, errors.WithStack(errE)
	}

	encrypter, err := josecipher.NewEncrypter(
		josecipher.A256GCM,
		josecipher.Recipient{Algorithm: josecipher.DIRECT, Key: s.key},
		nil,
	)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	object, err := encrypter.Encrypt(plaintext)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	serialized, err := object.CompactSerialize()
	if err != nil {
		return nil, errors.WithStack(err)
	}

	return []byte(serialized), nil
}

// Unseal decrypts a sealed ciphertext back into the original Pair. A
// corrupted or tampered ciphertext returns ErrTampered.
func (s *Sealer) Unseal(sealed []byte) (Pair, errors.E) {
	object, err := josecipher.ParseEncrypted(string(sealed))
	if err != nil {
		return Pair{}, errors.WithDetails(ErrTampered, "cause", err.Error())
	}

	plaintext, err := object.Decrypt(s.key)
	if err != nil {
		return Pair{}, errors.WithDetails(ErrTampered, "cause", err.Error())
	}

	var pair Pair
	if errE := x.UnmarshalWithoutUnknownFields(plaintext, &pair); errE != nil {
		return Pair{}, errors.WithStack(errE)
	}

	return pair, nil
}
