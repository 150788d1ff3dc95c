package enums

import "fmt"

// OwnerKind distinguishes participant-owned accounts from platform-owned ones.
type OwnerKind string

const (
	OwnerKindUser   OwnerKind = "user"
	OwnerKindSystem OwnerKind = "system"
)

var validOwnerKinds = []OwnerKind{
	OwnerKindUser,
	OwnerKindSystem,
}

// String implements fmt.Stringer.
func (k OwnerKind) String() string {
	return string(k)
}

// IsValid reports whether the owner kind is recognized.
func (k OwnerKind) IsValid() bool {
	for _, candidate := range validOwnerKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// ParseOwnerKind converts raw input into an OwnerKind.
func ParseOwnerKind(value string) (OwnerKind, error) {
	for _, candidate := range validOwnerKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid owner kind %q", value)
}
