package device

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type identityKind byte

const (
	identityAuto identityKind = iota
	identityIndex
	identitySerial
)

// Identity selects a physical camera: "auto", an index ("0", "cam1")
// or a serial number / name part. It may carry a family prefix: "mvs:cam0".
type Identity struct {
	Family Family

	kind  identityKind
	index int
	key   string
}

func ParseIdentity(s string) (Identity, error) {
	var id Identity

	if i := strings.IndexByte(s, ':'); i > 0 {
		family, err := ParseFamily(s[:i])
		if err != nil {
			return id, err
		}
		id.Family = family
		s = s[i+1:]
	}

	s = strings.TrimSpace(s)

	switch {
	case s == "" || strings.EqualFold(s, "auto"):
		id.kind = identityAuto
	case isDigits(s):
		id.kind = identityIndex
		id.index, _ = strconv.Atoi(s)
	case len(s) > 3 && strings.EqualFold(s[:3], "cam"):
		if !isDigits(s[3:]) {
			return id, fmt.Errorf("device: invalid identity %q", s)
		}
		id.kind = identityIndex
		id.index, _ = strconv.Atoi(s[3:])
	default:
		id.kind = identitySerial
		id.key = s
	}

	return id, nil
}

// MustIdentity is ParseIdentity for constants.
func MustIdentity(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}

// String returns canonical form; "0" and "cam0" give the same string.
func (id Identity) String() string {
	var s string
	switch id.kind {
	case identityAuto:
		s = "auto"
	case identityIndex:
		s = strconv.Itoa(id.index)
	default:
		s = id.key
	}
	if id.Family != FamilyUnknown {
		return id.Family.String() + ":" + s
	}
	return s
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// WithFamily returns id with family set if it has none.
func (id Identity) WithFamily(family Family) Identity {
	if id.Family == FamilyUnknown {
		id.Family = family
	}
	return id
}

var errAmbiguous = errors.New("ambiguous identity")

// Match selects exactly one descriptor from an enumeration.
func (id Identity) Match(list []Descriptor) (Descriptor, error) {
	if len(list) == 0 {
		return Descriptor{}, ErrDeviceNotFound
	}

	switch id.kind {
	case identityAuto:
		return list[0], nil

	case identityIndex:
		if id.index < len(list) {
			return list[id.index], nil
		}
		return Descriptor{}, fmt.Errorf("%w: index %d out of range 0-%d", ErrDeviceNotFound, id.index, len(list)-1)
	}

	// exact serial wins over name search
	for _, desc := range list {
		if desc.Serial == id.key {
			return desc, nil
		}
	}

	var found []Descriptor
	for _, desc := range list {
		if strings.Contains(desc.Name(), id.key) {
			found = append(found, desc)
		}
	}

	switch len(found) {
	case 0:
		return Descriptor{}, fmt.Errorf("%w: %q", ErrDeviceNotFound, id.key)
	case 1:
		return found[0], nil
	}
	return Descriptor{}, fmt.Errorf("%w: %w: %q matches %d devices", ErrDeviceNotFound, errAmbiguous, id.key, len(found))
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
