package otp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixOtpKey(t *testing.T) {
	cases := map[string]string{
		"  jbsw y3dp ehpk 3pxp  ": "JBSWY3DPEHPK3PXP",
		"JBSWY3DPEHPK3PXP====":    "JBSWY3DPEHPK3PXP",
		"JBSWY3DPEHPK3PXP":        "JBSWY3DPEHPK3PXP",
	}
	for in, want := range cases {
		require.Equal(t, want, FixOtpKey(in))
	}
}

func TestTOTPValidatesAgainstItself(t *testing.T) {
	secret := "JBSWY3DPEHPK3PXP"

	code, err := TOTP(secret)
	require.NoError(t, err)
	require.Len(t, code, Digits)
	require.True(t, Validate(secret, code))
}

func TestTOTPAcceptsMessySecrets(t *testing.T) {
	clean, err := TOTP("JBSWY3DPEHPK3PXP")
	require.NoError(t, err)
	messy, err := TOTP("  jbsw y3dp ehpk 3pxp==  ")
	require.NoError(t, err)
	require.Equal(t, clean, messy)
}

func TestValidateRejectsWrongCode(t *testing.T) {
	require.False(t, Validate("JBSWY3DPEHPK3PXP", "000000"))
}

func TestGenerateSecretRoundTrips(t *testing.T) {
	secret := GenerateSecret([]byte{0x48, 0x65, 0x6C, 0x6C, 0x6F, 0x21, 0xDE, 0xAD, 0xBE, 0xEF})
	require.NotEmpty(t, secret)

	code, err := TOTP(secret)
	require.NoError(t, err)
	require.Len(t, code, Digits)
}
