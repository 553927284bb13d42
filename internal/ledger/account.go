package ledger

import (
	"GameLedger/internal/apperr"
	"fmt"
	"strings"
)

const addressHexDigits = 64

// Address identifies a ledger account holder. The canonical form is "0x"
// followed by 64 lowercase hex digits.
type Address string

// ParseAddress validates and canonicalizes an address. Short hex inputs
// are left-padded with zeros.
func ParseAddress(s string) (Address, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !strings.HasPrefix(s, "0x") {
		return "", apperr.WithMetadata(apperr.CodeInvalidAddress,
			"address must start with 0x", map[string]string{"address": s})
	}

	digits := s[2:]
	if len(digits) == 0 || len(digits) > addressHexDigits {
		return "", apperr.WithMetadata(apperr.CodeInvalidAddress,
			fmt.Sprintf("address must have 1..%d hex digits", addressHexDigits), map[string]string{"address": s})
	}
	for _, r := range digits {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return "", apperr.WithMetadata(apperr.CodeInvalidAddress,
				"address contains non-hex characters", map[string]string{"address": s})
		}
	}

	return Address("0x" + strings.Repeat("0", addressHexDigits-len(digits)) + digits), nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return string(a)
}

// Short renders the address for log lines.
func (a Address) Short() string {
	if len(a) < 10 {
		return string(a)
	}
	return string(a[:6]) + ".." + string(a[len(a)-4:])
}

// AccountScope represents the top-level account namespace
type AccountScope uint8

const (
	AccountScopeUser AccountScope = iota
	AccountScopeSystem
)

// AccountSubType represents the account purpose
type AccountSubType uint8

const (
	SubTypeWallet AccountSubType = iota

	// Supply boundary accounts. Minting moves value out of system:mint,
	// burning moves it into system:burn.
	SubTypeSystemMint
	SubTypeSystemBurn
)

// AccountKey names one side of a journal entry.
type AccountKey struct {
	Scope   AccountScope
	Owner   Address
	SubType AccountSubType
}

// NewUserAccountKey creates the wallet key for an address.
func NewUserAccountKey(owner Address) AccountKey {
	return AccountKey{
		Scope:   AccountScopeUser,
		Owner:   owner,
		SubType: SubTypeWallet,
	}
}

// NewSystemAccountKey creates a supply boundary key.
func NewSystemAccountKey(subType AccountSubType) AccountKey {
	return AccountKey{
		Scope:   AccountScopeSystem,
		SubType: subType,
	}
}

// IsUser reports whether the key holds a real balance.
func (k AccountKey) IsUser() bool {
	return k.Scope == AccountScopeUser
}

// AccountPath returns the string representation for storage/logging
func (k AccountKey) AccountPath() string {
	switch k.Scope {
	case AccountScopeUser:
		return fmt.Sprintf("user:%s:%s", k.Owner, k.subTypeName())
	case AccountScopeSystem:
		return "system:" + k.subTypeName()
	}
	return "unknown"
}

func (k AccountKey) subTypeName() string {
	switch k.SubType {
	case SubTypeWallet:
		return "wallet"
	case SubTypeSystemMint:
		return "mint"
	case SubTypeSystemBurn:
		return "burn"
	default:
		return "unknown"
	}
}

// ParseAccountPath is the inverse of AccountPath.
func ParseAccountPath(path string) (AccountKey, error) {
	switch path {
	case "system:mint":
		return NewSystemAccountKey(SubTypeSystemMint), nil
	case "system:burn":
		return NewSystemAccountKey(SubTypeSystemBurn), nil
	}

	parts := strings.Split(path, ":")
	if len(parts) != 3 || parts[0] != "user" || parts[2] != "wallet" {
		return AccountKey{}, fmt.Errorf("unrecognized account path %q", path)
	}
	owner, err := ParseAddress(parts[1])
	if err != nil {
		return AccountKey{}, err
	}
	return NewUserAccountKey(owner), nil
}
