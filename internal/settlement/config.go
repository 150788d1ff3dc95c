package settlement

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vitawell/vitawell-backend/pkg/config"
)

// RoundingMode selects how computed amounts are brought to money scale.
type RoundingMode string

const (
	RoundingHalfUp RoundingMode = "half_up"
	RoundingDown   RoundingMode = "down"
	RoundingBank   RoundingMode = "bank"

	// moneyScale is the number of decimal places settled amounts carry.
	moneyScale = 2
)

// Config is the parsed, read-only distribution snapshot one settlement run
// uses. Percentages are plain percent values: 5 means five percent.
type Config struct {
	CashbackPercent       decimal.Decimal
	NetworkFundPercent    decimal.Decimal
	ReferralLevelPercents []decimal.Decimal
	PointRate             decimal.Decimal
	Rounding              RoundingMode
	Version               string
}

// ParseConfig validates and converts the environment snapshot.
func ParseConfig(raw config.SettlementConfig) (*Config, error) {
	cashback, err := parsePercent("cashback percent", raw.CashbackPercent)
	if err != nil {
		return nil, err
	}
	networkFund, err := parsePercent("network fund percent", raw.NetworkFundPercent)
	if err != nil {
		return nil, err
	}

	var levels []decimal.Decimal
	for i, part := range strings.Split(raw.ReferralLevelPercents, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		pct, err := parsePercent(fmt.Sprintf("referral percent level %d", i+1), part)
		if err != nil {
			return nil, err
		}
		levels = append(levels, pct)
	}

	pointRate, err := decimal.NewFromString(strings.TrimSpace(raw.PointRate))
	if err != nil {
		return nil, fmt.Errorf("invalid point rate %q: %w", raw.PointRate, err)
	}
	if pointRate.IsNegative() {
		return nil, fmt.Errorf("point rate must not be negative, got %s", pointRate)
	}

	rounding := RoundingMode(strings.TrimSpace(raw.RoundingMode))
	switch rounding {
	case RoundingHalfUp, RoundingDown, RoundingBank:
	case "":
		rounding = RoundingHalfUp
	default:
		return nil, fmt.Errorf("unknown rounding mode %q", raw.RoundingMode)
	}

	version := strings.TrimSpace(raw.Version)
	if version == "" {
		return nil, fmt.Errorf("settlement config version is required")
	}

	return &Config{
		CashbackPercent:       cashback,
		NetworkFundPercent:    networkFund,
		ReferralLevelPercents: levels,
		PointRate:             pointRate,
		Rounding:              rounding,
		Version:               version,
	}, nil
}

func parsePercent(name, value string) (decimal.Decimal, error) {
	pct, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid %s %q: %w", name, value, err)
	}
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, fmt.Errorf("%s must be between 0 and 100, got %s", name, pct)
	}
	return pct, nil
}

// PercentOf applies pct to base and rounds to money scale.
func (c *Config) PercentOf(base, pct decimal.Decimal) decimal.Decimal {
	return c.Round(base.Mul(pct).Div(decimal.NewFromInt(100)))
}

// Round brings an amount to money scale using the configured mode.
func (c *Config) Round(amount decimal.Decimal) decimal.Decimal {
	switch c.Rounding {
	case RoundingDown:
		return amount.RoundDown(moneyScale)
	case RoundingBank:
		return amount.RoundBank(moneyScale)
	default:
		return amount.Round(moneyScale)
	}
}
