package extractor

import (
	"math/big"
	"strings"

	apperrors "github.com/mitul-open-wallet/cosmos-stream/pkg/errors"
	"github.com/mitul-open-wallet/cosmos-stream/pkg/models"
)

// ParseAmount splits a composite coin string such as "12500uatom" into its
// integer amount and unit. A missing digit prefix or a missing unit suffix is
// an AMOUNT_FORMAT_ERROR.
func ParseAmount(input string) (models.CryptoAmount, error) {
	s := strings.TrimSpace(input)

	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}

	digits, unit := s[:i], s[i:]
	if digits == "" || unit == "" {
		return models.CryptoAmount{}, apperrors.ErrAmountFormat.WithDetail("input", input)
	}

	amount, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return models.CryptoAmount{}, apperrors.ErrAmountFormat.WithDetail("input", input)
	}

	return models.CryptoAmount{Amount: amount, Unit: unit}, nil
}

// SelectDenom returns the entry of a comma-separated coin list that ends with
// denom, e.g. "100uatom" from "100uatom,5000ibc/27394F".
func SelectDenom(coins, denom string) (string, bool) {
	for _, entry := range strings.Split(coins, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" && strings.HasSuffix(entry, denom) {
			return entry, true
		}
	}
	return "", false
}

// FirstCoin returns the first non-empty entry of a comma-separated coin list.
func FirstCoin(coins string) string {
	for _, entry := range strings.Split(coins, ",") {
		if entry = strings.TrimSpace(entry); entry != "" {
			return entry
		}
	}
	return coins
}

// parseDenomAmount picks the denom entry from a coin list and parses it.
// found is false when no entry carries the denomination.
func parseDenomAmount(coins, denom string) (amount models.CryptoAmount, found bool, err error) {
	entry, ok := SelectDenom(coins, denom)
	if !ok {
		return models.CryptoAmount{}, false, nil
	}
	amount, err = ParseAmount(entry)
	if err != nil {
		return models.CryptoAmount{}, true, err
	}
	return amount, true, nil
}
