package enums

import "fmt"

// OperationType tags a ledger transaction with the economic event it records.
// The set is closed; settlement code switches over it exhaustively.
type OperationType string

const (
	OperationTypeOrderAccrual          OperationType = "order_accrual"
	OperationTypePayment               OperationType = "payment"
	OperationTypeRefund                OperationType = "refund"
	OperationTypeReward                OperationType = "reward"
	OperationTypeTransfer              OperationType = "transfer"
	OperationTypeFastStartBonus        OperationType = "fast_start_bonus"
	OperationTypeInfinityBonus         OperationType = "infinity_bonus"
	OperationTypeOptionBonus           OperationType = "option_bonus"
	OperationTypeActivationBonus       OperationType = "activation_bonus"
	OperationTypeWithdrawalRequest     OperationType = "withdrawal_request"
	OperationTypeWithdrawalPayout      OperationType = "withdrawal_payout"
	OperationTypeCashback              OperationType = "cashback"
	OperationTypeNetworkBonus          OperationType = "network_bonus"
	OperationTypeReferralBonus         OperationType = "referral_bonus"
	OperationTypeNetworkFundAllocation OperationType = "network_fund_allocation"
	OperationTypeAdjustment            OperationType = "adjustment"
	OperationTypeReversal              OperationType = "reversal"
)

var validOperationTypes = []OperationType{
	OperationTypeOrderAccrual,
	OperationTypePayment,
	OperationTypeRefund,
	OperationTypeReward,
	OperationTypeTransfer,
	OperationTypeFastStartBonus,
	OperationTypeInfinityBonus,
	OperationTypeOptionBonus,
	OperationTypeActivationBonus,
	OperationTypeWithdrawalRequest,
	OperationTypeWithdrawalPayout,
	OperationTypeCashback,
	OperationTypeNetworkBonus,
	OperationTypeReferralBonus,
	OperationTypeNetworkFundAllocation,
	OperationTypeAdjustment,
	OperationTypeReversal,
}

// String implements fmt.Stringer.
func (t OperationType) String() string {
	return string(t)
}

// IsValid reports whether the operation type belongs to the closed set.
func (t OperationType) IsValid() bool {
	for _, candidate := range validOperationTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseOperationType converts raw input into an OperationType.
func ParseOperationType(value string) (OperationType, error) {
	for _, candidate := range validOperationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid operation type %q", value)
}
