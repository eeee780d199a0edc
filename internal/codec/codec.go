// Package codec turns a Profile into a self-contained token and back. The
// token is the profile itself: short-key JSON wrapped in URL-safe base64, so
// any server instance can resolve it without shared state.
package codec

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dharsanguruparan/QRescue/internal/model"
)

var (
	// ErrIncompleteProfile is returned by Encode when a required field is
	// missing. Callers validate before encoding, so this is a contract
	// violation rather than a runtime condition.
	ErrIncompleteProfile = errors.New("incomplete profile")
	// ErrInvalidText is returned by Encode when a field is not valid UTF-8,
	// which JSON would otherwise rewrite to U+FFFD.
	ErrInvalidText = errors.New("profile text is not valid UTF-8")
	// ErrNotSelfContained is wrapped by every DecodeFailure.
	ErrNotSelfContained = errors.New("token is not a self-contained profile")
)

// encoding is shared by tokens and encoded phone numbers. RawURLEncoding uses
// '-' and '_' and no padding, so tokens fit in a path segment unescaped.
var encoding = base64.RawURLEncoding

// DecodeFailure explains why a token could not be decoded. It is expected for
// legacy tokens and hand-edited input, and callers fall through to the store.
type DecodeFailure struct {
	Reason string
	Err    error
}

func (f *DecodeFailure) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("decode token: %s: %v", f.Reason, f.Err)
	}
	return "decode token: " + f.Reason
}

func (f *DecodeFailure) Unwrap() error {
	if f.Err != nil {
		return f.Err
	}
	return ErrNotSelfContained
}

// Is lets errors.Is(err, ErrNotSelfContained) match any failure.
func (f *DecodeFailure) Is(target error) bool {
	return target == ErrNotSelfContained
}

// wirePair and wireProfile are the compact on-token shape. Field order in the
// struct fixes the serialization order.
type wirePair struct {
	N string `json:"n"`
	P string `json:"p"`
}

type wireProfile struct {
	N string     `json:"n"`
	B string     `json:"b"`
	E []wirePair `json:"e"`
	G []wirePair `json:"g"`
	T int64      `json:"t"`
}

// Encode serializes p into a token. A zero CreatedAt is stamped with the
// current time; timestamps travel with millisecond precision.
func Encode(p model.Profile) (string, error) {
	if strings.TrimSpace(p.FullName) == "" || strings.TrimSpace(p.BloodGroup) == "" ||
		len(p.EmergencyContacts) == 0 || len(p.GovernmentHelplines) == 0 {
		return "", ErrIncompleteProfile
	}
	texts := []string{p.FullName, p.BloodGroup}
	for _, c := range append(append([]model.Contact(nil), p.EmergencyContacts...), p.GovernmentHelplines...) {
		if c.Name == "" || c.Phone == "" {
			return "", ErrIncompleteProfile
		}
		texts = append(texts, c.Name, c.Phone)
	}
	for _, text := range texts {
		if !utf8.ValidString(text) {
			return "", ErrInvalidText
		}
	}
	created := p.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	wire := wireProfile{
		N: p.FullName,
		B: p.BloodGroup,
		E: toPairs(p.EmergencyContacts),
		G: toPairs(p.GovernmentHelplines),
		T: created.UnixMilli(),
	}
	data, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("marshal profile: %w", err)
	}
	return encoding.EncodeToString(data), nil
}

// Decode reverses Encode. Malformed input of any kind yields a *DecodeFailure.
func Decode(token string) (model.Profile, error) {
	token = strings.TrimRight(strings.TrimSpace(token), "=")
	if token == "" {
		return model.Profile{}, &DecodeFailure{Reason: "empty token"}
	}
	data, err := encoding.DecodeString(token)
	if err != nil {
		return model.Profile{}, &DecodeFailure{Reason: "invalid base64", Err: err}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var wire wireProfile
	if err := dec.Decode(&wire); err != nil {
		return model.Profile{}, &DecodeFailure{Reason: "invalid payload", Err: err}
	}
	if dec.More() {
		return model.Profile{}, &DecodeFailure{Reason: "trailing data after payload"}
	}
	if err := wire.check(); err != nil {
		return model.Profile{}, err
	}
	return model.Profile{
		FullName:            wire.N,
		BloodGroup:          wire.B,
		EmergencyContacts:   fromPairs(wire.E),
		GovernmentHelplines: fromPairs(wire.G),
		CreatedAt:           time.UnixMilli(wire.T).UTC(),
	}, nil
}

func (w wireProfile) check() error {
	switch {
	case w.N == "":
		return &DecodeFailure{Reason: "missing name"}
	case w.B == "":
		return &DecodeFailure{Reason: "missing blood group"}
	case len(w.E) == 0:
		return &DecodeFailure{Reason: "missing emergency contacts"}
	case len(w.G) == 0:
		return &DecodeFailure{Reason: "missing helplines"}
	case w.T <= 0:
		return &DecodeFailure{Reason: "missing creation time"}
	}
	for i, pair := range append(append([]wirePair(nil), w.E...), w.G...) {
		if pair.N == "" || pair.P == "" {
			return &DecodeFailure{Reason: "incomplete pair at index " + strconv.Itoa(i)}
		}
	}
	return nil
}

// EncodePhone obfuscates a phone number with the token encoding. It hides
// digits from casual inspection and is not a security boundary.
func EncodePhone(phone string) string {
	return encoding.EncodeToString([]byte(phone))
}

// DecodePhone reverses EncodePhone. Padded and standard-alphabet input is
// accepted too.
func DecodePhone(encoded string) (string, error) {
	raw := strings.TrimRight(encoded, "=")
	data, err := encoding.DecodeString(raw)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(raw)
	}
	if err != nil {
		return "", fmt.Errorf("decode phone: %w", err)
	}
	return string(data), nil
}

// IsLegacyToken reports whether token has the pre-codec format: 32 lowercase
// hex characters with no embedded data.
func IsLegacyToken(token string) bool {
	if len(token) != 32 {
		return false
	}
	for _, c := range token {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// NewLegacyToken returns a random 32-character hex key.
func NewLegacyToken() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// Fall back to a timestamp-derived key; still 32 hex characters.
		return fmt.Sprintf("%032x", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

func toPairs(contacts []model.Contact) []wirePair {
	out := make([]wirePair, len(contacts))
	for i, c := range contacts {
		out[i] = wirePair{N: c.Name, P: c.Phone}
	}
	return out
}

func fromPairs(pairs []wirePair) []model.Contact {
	out := make([]model.Contact, len(pairs))
	for i, p := range pairs {
		out[i] = model.Contact{Name: p.N, Phone: p.P}
	}
	return out
}
