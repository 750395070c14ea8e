package core

import (
	"fmt"
	"strings"
)

// SplitSymbol splits a BASE_QUOTE market symbol like "SOL_USDC" into its
// base and quote currencies.
func SplitSymbol(symbol string) (base, quote string, err error) {
	parts := strings.Split(symbol, "_")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("symbol %q must be BASE_QUOTE", symbol)
	}
	return parts[0], parts[1], nil
}
