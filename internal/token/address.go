package token

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// ValidateAddress checks that s is a base58-encoded 32-byte Solana public key.
func ValidateAddress(s string) error {
	if s == "" {
		return fmt.Errorf("empty address")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return fmt.Errorf("address %q: invalid base58: %w", s, err)
	}
	if len(raw) != 32 {
		return fmt.Errorf("address %q: decoded to %d bytes, want 32", s, len(raw))
	}
	return nil
}

// Short returns the first 8 characters of an address for log lines.
func Short(address string) string {
	if len(address) > 8 {
		return address[:8]
	}
	return address
}
