package cpf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/cursolab/gestao-api/pkg/errors"
)

func TestNormalizeStripsFormatting(t *testing.T) {
	got, err := Normalize("529.982.247-25")
	require.NoError(t, err)
	assert.Equal(t, "52998224725", got)
}

func TestNormalizePlainDigits(t *testing.T) {
	got, err := Normalize("52998224725")
	require.NoError(t, err)
	assert.Equal(t, "52998224725", got)
}

func TestNormalizeRejectsWrongLength(t *testing.T) {
	for _, raw := range []string{"", "123", "123.456.789-0", "529982247251"} {
		_, err := Normalize(raw)
		require.Error(t, err, raw)
		assert.Equal(t, appErrors.ErrInvalidIdentity.Code, appErrors.FromError(err).Code)
	}
}

func TestNormalizeRejectsRepeatedDigits(t *testing.T) {
	for _, raw := range []string{"00000000000", "11111111111", "999.999.999-99"} {
		_, err := Normalize(raw)
		require.Error(t, err, raw)
		assert.Equal(t, appErrors.ErrInvalidIdentity.Code, appErrors.FromError(err).Code)
	}
}

func TestNormalizeIgnoresNonDigitNoise(t *testing.T) {
	got, err := Normalize(" 529 982 247 25 ")
	require.NoError(t, err)
	assert.Equal(t, "52998224725", got)
}

func TestValid(t *testing.T) {
	assert.True(t, Valid("529.982.247-25"))
	assert.False(t, Valid("11111111111"))
	assert.False(t, Valid("1234"))
}
