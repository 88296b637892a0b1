package otp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtractCode(t *testing.T) {
	cases := []struct {
		text  string
		code  string
		found bool
	}{
		{text: "Your OTP for IREPS login is 482913. Do not share.", code: "482913", found: true},
		{text: "Ref 2024 OTP 482913", code: "482913", found: true},
		{text: "Use 7781 to login", code: "7781", found: true},
		{text: "code 12345678 valid", code: "12345678", found: true},
		{text: "call 9876543210 for help", found: false},
		{text: "no digits here", found: false},
		{text: "abc123456def", found: false},
	}
	for _, test := range cases {
		code, ok := ExtractCode(test.text)
		require.Equal(t, test.found, ok, test.text)
		require.Equal(t, test.code, code, test.text)
	}
}
