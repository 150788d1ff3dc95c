package enums

import "fmt"

// AccountType names the bucket of value an account holds for its owner.
type AccountType string

const (
	AccountTypeCash        AccountType = "cash"
	AccountTypePointVolume AccountType = "point_volume"
	AccountTypeCoin        AccountType = "internal_coin"
	AccountTypeReferral    AccountType = "referral"
	AccountTypeReserve     AccountType = "reserve"
	AccountTypeNetworkFund AccountType = "network_fund"
)

var validAccountTypes = []AccountType{
	AccountTypeCash,
	AccountTypePointVolume,
	AccountTypeCoin,
	AccountTypeReferral,
	AccountTypeReserve,
	AccountTypeNetworkFund,
}

// String implements fmt.Stringer.
func (t AccountType) String() string {
	return string(t)
}

// IsValid reports whether the account type is recognized.
func (t AccountType) IsValid() bool {
	for _, candidate := range validAccountTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseAccountType converts raw input into an AccountType.
func ParseAccountType(value string) (AccountType, error) {
	for _, candidate := range validAccountTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid account type %q", value)
}
