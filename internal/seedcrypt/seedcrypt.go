// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package seedcrypt implements the password protected envelope used to keep
// mnemonic entropy and HD seeds at rest. The encryption key is derived from the
// password with scrypt and the secret is sealed with NaCl secretbox, whose
// authenticator doubles as the password check.
package seedcrypt

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/btcsuite/hdaccount/internal/zero"
	"github.com/lightningnetwork/lnd/tlv"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	// KeySize is the size of the symmetric key derived from a password.
	KeySize = 32

	// NonceSize is the size of the secretbox nonce.
	NonceSize = 24

	// SaltSize is the size of the random scrypt salt.
	SaltSize = 32
)

const (
	typeSalt       tlv.Type = 0
	typeNonce      tlv.Type = 2
	typeCiphertext tlv.Type = 4
	typeFlags      tlv.Type = 6
	typeScryptN    tlv.Type = 8
	typeScryptR    tlv.Type = 10
	typeScryptP    tlv.Type = 12
)

// flagFromSecureRandom marks an envelope whose plaintext was produced by the
// secure random entropy source.
const flagFromSecureRandom uint8 = 1 << 0

var (
	// ErrWrongPassword is returned when the envelope cannot be opened with
	// the given password.
	ErrWrongPassword = errors.New("wrong password")

	// ErrEmptyPassword is returned when an empty password is used to seal
	// or open an envelope.
	ErrEmptyPassword = errors.New("empty password")

	// ErrEmptyPlaintext is returned when there is nothing to encrypt.
	ErrEmptyPlaintext = errors.New("empty plaintext")

	// ErrMalformedEnvelope is returned when a serialized envelope cannot be
	// decoded.
	ErrMalformedEnvelope = errors.New("malformed encrypted envelope")

	// ErrInvalidParams is returned for scrypt parameters outside the
	// accepted bounds.
	ErrInvalidParams = errors.New("invalid scrypt parameters")
)

const (
	// MaxN is the largest accepted scrypt cost.
	MaxN = 1 << 20

	// maxMemory bounds the 128*N*R bytes scrypt allocates.
	maxMemory = 1 << 30
)

// Params are the scrypt cost parameters used to derive the sealing key.
type Params struct {
	N uint32
	R uint32
	P uint32
}

// DefaultParams are the scrypt parameters used for new envelopes.
var DefaultParams = Params{N: 1 << 15, R: 8, P: 1}

// Validate checks that N is a power of two no larger than MaxN, that R and P
// are set with R*P below 1<<30, and that the derivation fits in maxMemory.
func (p Params) Validate() error {
	switch {
	case p.N < 2 || p.N&(p.N-1) != 0:
		return fmt.Errorf("%w: N=%d is not a power of two above one",
			ErrInvalidParams, p.N)

	case p.N > MaxN:
		return fmt.Errorf("%w: N=%d exceeds %d", ErrInvalidParams, p.N,
			MaxN)

	case p.R == 0 || p.P == 0:
		return fmt.Errorf("%w: R=%d P=%d", ErrInvalidParams, p.R, p.P)

	case uint64(p.R)*uint64(p.P) >= 1<<30:
		return fmt.Errorf("%w: R*P=%d too large", ErrInvalidParams,
			uint64(p.R)*uint64(p.P))

	case 128*uint64(p.N)*uint64(p.R) > maxMemory:
		return fmt.Errorf("%w: N=%d R=%d needs more than %d bytes",
			ErrInvalidParams, p.N, p.R, maxMemory)
	}

	return nil
}

// EncryptedData is a sealed secret together with everything needed to open it
// again except the password.
type EncryptedData struct {
	Salt             [SaltSize]byte
	Nonce            [NonceSize]byte
	Ciphertext       []byte
	Params           Params
	FromSecureRandom bool
}

// deriveKey runs scrypt over the password with the envelope's salt. The
// returned key must be wiped by the caller.
func deriveKey(password []byte, salt []byte, params Params) (*[KeySize]byte,
	error) {

	if err := params.Validate(); err != nil {
		return nil, err
	}

	k, err := scrypt.Key(password, salt, int(params.N), int(params.R),
		int(params.P), KeySize)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	defer zero.Bytes(k)

	var key [KeySize]byte
	copy(key[:], k)

	return &key, nil
}

// Encrypt seals plaintext under a key derived from password. Randomness for
// the salt and nonce is read from rand.
func Encrypt(rand io.Reader, plaintext, password []byte, params Params,
	fromSecureRandom bool) (*EncryptedData, error) {

	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}
	if len(plaintext) == 0 {
		return nil, ErrEmptyPlaintext
	}

	e := &EncryptedData{
		Params:           params,
		FromSecureRandom: fromSecureRandom,
	}
	if _, err := io.ReadFull(rand, e.Salt[:]); err != nil {
		return nil, fmt.Errorf("read salt: %w", err)
	}
	if _, err := io.ReadFull(rand, e.Nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	key, err := deriveKey(password, e.Salt[:], params)
	if err != nil {
		return nil, err
	}
	defer zero.Bytes(key[:])

	e.Ciphertext = secretbox.Seal(nil, plaintext, &e.Nonce, key)

	return e, nil
}

// Decrypt opens the envelope. ErrWrongPassword is returned when the
// authenticator does not verify. The returned plaintext is owned by the
// caller, who must wipe it once done.
func (e *EncryptedData) Decrypt(password []byte) ([]byte, error) {
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}

	key, err := deriveKey(password, e.Salt[:], e.Params)
	if err != nil {
		return nil, err
	}
	defer zero.Bytes(key[:])

	plaintext, ok := secretbox.Open(nil, e.Ciphertext, &e.Nonce, key)
	if !ok {
		return nil, ErrWrongPassword
	}

	return plaintext, nil
}

// records returns the tlv records of the envelope. The nonce is carried as a
// variable length field and checked after decoding.
func (e *EncryptedData) records(nonce *[]byte, flags *uint8) []tlv.Record {
	return []tlv.Record{
		tlv.MakePrimitiveRecord(typeSalt, &e.Salt),
		tlv.MakePrimitiveRecord(typeNonce, nonce),
		tlv.MakePrimitiveRecord(typeCiphertext, &e.Ciphertext),
		tlv.MakePrimitiveRecord(typeFlags, flags),
		tlv.MakePrimitiveRecord(typeScryptN, &e.Params.N),
		tlv.MakePrimitiveRecord(typeScryptR, &e.Params.R),
		tlv.MakePrimitiveRecord(typeScryptP, &e.Params.P),
	}
}

// Encode writes the envelope to w as a tlv stream.
func (e *EncryptedData) Encode(w io.Writer) error {
	nonce := e.Nonce[:]

	var flags uint8
	if e.FromSecureRandom {
		flags |= flagFromSecureRandom
	}

	stream, err := tlv.NewStream(e.records(&nonce, &flags)...)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Bytes returns the serialized envelope.
func (e *EncryptedData) Bytes() ([]byte, error) {
	var b bytes.Buffer
	if err := e.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// Decode reads an envelope previously written by Encode.
func Decode(r io.Reader) (*EncryptedData, error) {
	var (
		e     EncryptedData
		nonce []byte
		flags uint8
	)

	stream, err := tlv.NewStream(e.records(&nonce, &flags)...)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("%w: nonce length %d", ErrMalformedEnvelope,
			len(nonce))
	}
	if len(e.Ciphertext) <= secretbox.Overhead {
		return nil, fmt.Errorf("%w: ciphertext too short",
			ErrMalformedEnvelope)
	}
	if err := e.Params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	copy(e.Nonce[:], nonce)
	e.FromSecureRandom = flags&flagFromSecureRandom != 0

	return &e, nil
}

// FromBytes decodes a serialized envelope.
func FromBytes(b []byte) (*EncryptedData, error) {
	return Decode(bytes.NewReader(b))
}
