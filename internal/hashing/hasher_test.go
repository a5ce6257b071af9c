package hashing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"verification-service/internal/config"
)

func newTestHasher() *Hasher {
	return NewHasher(&config.Config{
		Hashing: config.HashingConfig{
			Argon2MemoryCost:   1024,
			Argon2TimeCost:     1,
			Argon2Parallelism:  1,
			PepperRotationDays: 30,
		},
	})
}

func TestHashAndVerifyCode(t *testing.T) {
	h := newTestHasher()

	result, err := h.HashCode("482913")
	require.NoError(t, err)
	require.Equal(t, "argon2id-v1", result.Algorithm)
	require.NotEmpty(t, result.Hash)
	require.NotEmpty(t, result.Salt)
	require.NotContains(t, result.Hash, "482913")

	match, err := h.VerifyCode("482913", result)
	require.NoError(t, err)
	require.True(t, match)

	match, err = h.VerifyCode("482914", result)
	require.NoError(t, err)
	require.False(t, match)
}

func TestHashesAreSalted(t *testing.T) {
	h := newTestHasher()

	first, err := h.HashCode("482913")
	require.NoError(t, err)
	second, err := h.HashCode("482913")
	require.NoError(t, err)

	require.NotEqual(t, first.Hash, second.Hash)
	require.NotEqual(t, first.Salt, second.Salt)
}

func TestVerifySurvivesPepperRotation(t *testing.T) {
	h := newTestHasher()

	result, err := h.HashCode("482913")
	require.NoError(t, err)

	h.rotatePepper()

	match, err := h.VerifyCode("482913", result)
	require.NoError(t, err)
	require.True(t, match, "old pepper versions stay verifiable")
}

func TestUnknownPepperVersion(t *testing.T) {
	h := newTestHasher()

	result, err := h.HashCode("482913")
	require.NoError(t, err)

	result.PepperVersion = 99
	_, err = h.VerifyCode("482913", result)
	require.Error(t, err)
}

func TestCorruptHashRejected(t *testing.T) {
	h := newTestHasher()

	result, err := h.HashCode("482913")
	require.NoError(t, err)

	result.Salt = "not!base64!"
	_, err = h.VerifyCode("482913", result)
	require.ErrorIs(t, err, ErrInvalidHash)
}
