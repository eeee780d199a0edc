package registration

import (
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"

	"github.com/dharsanguruparan/QRescue/internal/apperr"
)

// Validation failures, in the order they are checked. Each has a stable
// message so clients can match on it.
var (
	ErrIdentityRequired  = apperr.Invalid("fullName", "fullName and bloodGroup are required", nil)
	ErrContactsRequired  = apperr.Invalid("emergencyContacts", "at least one emergency contact is required", nil)
	ErrHelplinesRequired = apperr.Invalid("governmentHelplines", "at least one government helpline is required", nil)
	ErrInvalidContact    = apperr.Invalid("emergencyContacts", "each emergency contact needs a name and a valid phone number", nil)
	ErrInvalidHelpline   = apperr.Invalid("governmentHelplines", "each government helpline needs a name and a valid phone number", nil)
)

// PhoneCheck decides whether a raw phone string is acceptable.
type PhoneCheck func(raw string) bool

// PermissivePhone accepts any value containing at least one digit.
func PermissivePhone(raw string) bool {
	return DigitsOnly(raw) != ""
}

// StrictPhone returns a check requiring 10 to 13 digits once non-digits are
// stripped.
func StrictPhone() PhoneCheck {
	v := validator.New()
	return func(raw string) bool {
		return v.Var(DigitsOnly(raw), "required,numeric,min=10,max=13") == nil
	}
}

// PhonePolicy maps a configured policy name to its check. Unknown names fall
// back to the permissive policy.
func PhonePolicy(name string) PhoneCheck {
	if name == "strict" {
		return StrictPhone()
	}
	return PermissivePhone
}

// DigitsOnly strips every non-digit character.
func DigitsOnly(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

func validate(in Input, phoneOK PhoneCheck) error {
	if strings.TrimSpace(in.FullName) == "" || strings.TrimSpace(in.BloodGroup) == "" {
		return ErrIdentityRequired
	}
	if len(in.EmergencyContacts) == 0 {
		return ErrContactsRequired
	}
	if len(in.GovernmentHelplines) == 0 {
		return ErrHelplinesRequired
	}
	for _, c := range in.EmergencyContacts {
		if isBlank(c.Name) || !phoneOK(c.Phone) {
			return ErrInvalidContact
		}
	}
	for _, h := range in.GovernmentHelplines {
		if isBlank(h.Name) || !phoneOK(h.number()) {
			return ErrInvalidHelpline
		}
	}
	return nil
}

func isBlank(s string) bool {
	return strings.IndexFunc(s, func(r rune) bool { return !unicode.IsSpace(r) }) < 0
}
