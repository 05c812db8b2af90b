package wallet

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ValidateAddress parses a user-supplied destination address.
//
// The input must be 0x followed by 40 hex digits. All-lowercase and
// all-uppercase forms are accepted as-is; mixed case must match the EIP-55
// checksum. The zero address is rejected since nothing can spend from it.
func ValidateAddress(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) || len(s) != 2+2*common.AddressLength {
		return common.Address{}, fmt.Errorf("%w: %q is not a 0x-prefixed 40 digit hex address", ErrInvalidAddress, s)
	}

	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}

	body := s[2:]
	if isMixedCase(body) && addr.Hex()[2:] != body {
		return common.Address{}, fmt.Errorf("%w: checksum mismatch", ErrInvalidAddress)
	}
	return addr, nil
}

func isMixedCase(s string) bool {
	var lower, upper bool
	for _, c := range s {
		switch {
		case c >= 'a' && c <= 'f':
			lower = true
		case c >= 'A' && c <= 'F':
			upper = true
		}
	}
	return lower && upper
}
