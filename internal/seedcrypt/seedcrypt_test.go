package seedcrypt

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

// testParams keeps scrypt cheap for unit tests.
var testParams = Params{N: 1 << 10, R: 8, P: 1}

// TestEncryptDecryptRoundTrip checks that a sealed seed opens again with the
// same password, for a variety of passwords.
func TestEncryptDecryptRoundTrip(t *testing.T) {
	t.Parallel()

	passwords := []string{"a", "password", "ünïcödé", "p@ss w0rd with spaces"}

	for _, pw := range passwords {
		t.Run(pw, func(t *testing.T) {
			t.Parallel()

			// Arrange: a fresh 16 byte seed.
			seed := make([]byte, 16)
			_, err := rand.Read(seed)
			require.NoError(t, err)

			// Act: seal and open.
			enc, err := Encrypt(rand.Reader, seed, []byte(pw), testParams,
				false)
			require.NoError(t, err)

			got, err := enc.Decrypt([]byte(pw))

			// Assert: the plaintext survives.
			require.NoError(t, err)
			require.Equal(t, seed, got)
			require.NotContains(t, string(enc.Ciphertext), string(seed))
		})
	}
}

// TestDecryptWrongPassword checks that the authenticator rejects a wrong
// password with ErrWrongPassword.
func TestDecryptWrongPassword(t *testing.T) {
	t.Parallel()

	enc, err := Encrypt(rand.Reader, []byte("0123456789abcdef"),
		[]byte("right"), testParams, false)
	require.NoError(t, err)

	_, err = enc.Decrypt([]byte("wrong"))
	require.ErrorIs(t, err, ErrWrongPassword)
}

// TestEncryptRejectsEmptyInput checks the argument validation.
func TestEncryptRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	_, err := Encrypt(rand.Reader, []byte("seed"), nil, testParams, false)
	require.ErrorIs(t, err, ErrEmptyPassword)

	_, err = Encrypt(rand.Reader, nil, []byte("pw"), testParams, false)
	require.ErrorIs(t, err, ErrEmptyPlaintext)

	enc, err := Encrypt(rand.Reader, []byte("seed"), []byte("pw"),
		testParams, false)
	require.NoError(t, err)

	_, err = enc.Decrypt(nil)
	require.ErrorIs(t, err, ErrEmptyPassword)
}

// TestEncodeDecode checks that the tlv serialization keeps every field of the
// envelope, including the provenance flag and the scrypt parameters.
func TestEncodeDecode(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name             string
		fromSecureRandom bool
	}{
		{name: "default source", fromSecureRandom: false},
		{name: "secure random source", fromSecureRandom: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: an envelope sealed with the provenance flag
			// of the case.
			enc, err := Encrypt(rand.Reader, []byte("0123456789abcdef"),
				[]byte("pw"), testParams, tc.fromSecureRandom)
			require.NoError(t, err)

			// Act: serialize and decode it again.
			b, err := enc.Bytes()
			require.NoError(t, err)

			decoded, err := FromBytes(b)

			// Assert: every field survives and the secret opens.
			require.NoError(t, err)
			require.Equal(t, enc, decoded)

			plain, err := decoded.Decrypt([]byte("pw"))
			require.NoError(t, err)
			require.Equal(t, []byte("0123456789abcdef"), plain)
		})
	}
}

// TestDecodeMalformed checks that truncated or inconsistent envelopes are
// rejected.
func TestDecodeMalformed(t *testing.T) {
	t.Parallel()

	enc, err := Encrypt(rand.Reader, []byte("0123456789abcdef"),
		[]byte("pw"), testParams, false)
	require.NoError(t, err)

	b, err := enc.Bytes()
	require.NoError(t, err)

	_, err = FromBytes(b[:len(b)/2])
	require.ErrorIs(t, err, ErrMalformedEnvelope)

	_, err = Decode(bytes.NewReader(nil))
	require.ErrorIs(t, err, ErrMalformedEnvelope)
}

// TestParamsValidate checks the bounds placed on scrypt cost parameters.
func TestParamsValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		params  Params
		wantErr bool
	}{
		{name: "default", params: DefaultParams},
		{name: "test", params: testParams},
		{name: "largest cost", params: Params{N: MaxN, R: 8, P: 1}},
		{name: "zero", params: Params{}, wantErr: true},
		{name: "cost one", params: Params{N: 1, R: 8, P: 1}, wantErr: true},
		{
			name:    "cost not a power of two",
			params:  Params{N: 1000, R: 8, P: 1},
			wantErr: true,
		},
		{
			name:    "cost above ceiling",
			params:  Params{N: 1 << 31, R: 8, P: 1},
			wantErr: true,
		},
		{
			name:    "zero block size",
			params:  Params{N: 1 << 10, R: 0, P: 1},
			wantErr: true,
		},
		{
			name:    "zero parallelism",
			params:  Params{N: 1 << 10, R: 8, P: 0},
			wantErr: true,
		},
		{
			name:    "block size times parallelism overflow",
			params:  Params{N: 2, R: 1 << 15, P: 1 << 15},
			wantErr: true,
		},
		{
			name:    "memory above ceiling",
			params:  Params{N: 1 << 10, R: 1 << 14, P: 1},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			err := tc.params.Validate()
			if tc.wantErr {
				require.ErrorIs(t, err, ErrInvalidParams)
				return
			}

			require.NoError(t, err)
		})
	}
}

// TestDecodeRejectsCostParams checks that an envelope whose scrypt cost was
// rewritten after sealing is rejected before any key derivation runs.
func TestDecodeRejectsCostParams(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		params Params
	}{
		{name: "huge cost", params: Params{N: 1 << 31, R: 8, P: 1}},
		{name: "odd cost", params: Params{N: 1023, R: 8, P: 1}},
		{name: "huge block size", params: Params{N: 1 << 10, R: 1 << 28, P: 1}},
		{name: "zero parallelism", params: Params{N: 1 << 10, R: 8}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Arrange: a valid envelope with its parameters replaced.
			enc, err := Encrypt(rand.Reader, []byte("0123456789abcdef"),
				[]byte("pw"), testParams, false)
			require.NoError(t, err)

			enc.Params = tc.params
			b, err := enc.Bytes()
			require.NoError(t, err)

			// Act: decode the tampered bytes.
			_, err = FromBytes(b)

			// Assert: the envelope is refused as malformed.
			require.ErrorIs(t, err, ErrMalformedEnvelope)
			require.ErrorIs(t, err, ErrInvalidParams)

			// Opening the tampered envelope directly is refused too.
			_, err = enc.Decrypt([]byte("pw"))
			require.ErrorIs(t, err, ErrInvalidParams)
		})
	}
}
