package phone

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"nanp with punctuation", "(212) 555-0187", "+12125550187"},
		{"nanp with country code", "+1 212 555 0187", "+12125550187"},
		{"bare ten digits", "2125550187", "+12125550187"},
		{"already e164", "+12125550187", "+12125550187"},
		{"uk number", "+44 20 7946 0958", "+442079460958"},
		{"dots and spaces", "1.212.555.0187", "+12125550187"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize(tt.input)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{"(212) 555-0187", "+442079460958", "2125550187"}

	for _, in := range inputs {
		first, err := Normalize(in)
		require.NoError(t, err)

		second, err := Normalize(first)
		require.NoError(t, err)
		require.Equal(t, first, second)
	}
}

func TestNormalizeRejectsBadInput(t *testing.T) {
	bad := []string{
		"",
		"555-0187",             // too short
		"12345",                // too short
		"12345678901234567890", // too long
		"not a phone",
	}

	for _, in := range bad {
		_, err := Normalize(in)
		require.ErrorIs(t, err, ErrInvalidPhone, "input %q", in)
	}
}
