// Package model contains simple struct definitions shared across packages.
package model

import (
	"time"
)

// Contact is a named phone number. Emergency contacts and government
// helplines share this shape; Phone holds digits only once normalized.
type Contact struct {
	Name  string `json:"name"`
	Phone string `json:"phone"`
}

// Profile is the emergency card a person registers. The codec embeds all five
// fields in a self-contained token, so any change here changes the token
// format.
type Profile struct {
	FullName            string    `json:"fullName"`
	BloodGroup          string    `json:"bloodGroup"`
	EmergencyContacts   []Contact `json:"emergencyContacts"`
	GovernmentHelplines []Contact `json:"governmentHelplines"`
	// CreatedAt is stamped once, at encode or store-write time.
	CreatedAt time.Time `json:"createdAt"`
}

// Clone returns a deep copy so callers cannot mutate shared slices.
func (p Profile) Clone() Profile {
	out := p
	out.EmergencyContacts = append([]Contact(nil), p.EmergencyContacts...)
	out.GovernmentHelplines = append([]Contact(nil), p.GovernmentHelplines...)
	return out
}

// PublicContact is an emergency contact as shown to a scanner. The phone is
// base64-encoded so raw digits never appear in the payload as plain text.
type PublicContact struct {
	Name         string `json:"name"`
	PhoneEncoded string `json:"phoneEncoded"`
}

// PublicHelpline is a government helpline as shown to a scanner.
type PublicHelpline struct {
	Name   string `json:"name"`
	Number string `json:"number"`
}

// PublicProfileView is the minimum data exposed to whoever scans a code.
type PublicProfileView struct {
	FullName            string           `json:"fullName"`
	BloodGroup          string           `json:"bloodGroup"`
	EmergencyContacts   []PublicContact  `json:"emergencyContacts"`
	GovernmentHelplines []PublicHelpline `json:"governmentHelplines"`
}
