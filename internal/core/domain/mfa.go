package domain

// MFAType discriminates multi-factor verification variants.
type MFAType string

const (
	MFATypeTOTP MFAType = "totp"
	MFATypeSMS  MFAType = "sms"
)

// MFAConfig captures a user's multi-factor configuration.
// Invariant: Enabled implies Type is set and Secret is appropriate to that type
// (a base32 shared secret for totp, a delivered literal code for sms).
type MFAConfig struct {
	Enabled bool
	Type    MFAType
	Secret  string
}

// Valid reports whether the configuration honours the enabled-implies-typed invariant.
func (c MFAConfig) Valid() bool {
	if !c.Enabled {
		return true
	}
	switch c.Type {
	case MFATypeTOTP, MFATypeSMS:
		return c.Secret != ""
	default:
		return false
	}
}
