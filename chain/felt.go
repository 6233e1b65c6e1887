package chain

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Prime is the Starknet field modulus, 2^251 + 17*2^192 + 1.
var Prime, _ = new(big.Int).SetString("800000000000011000000000000000000000000000000000000000000000001", 16)

var (
	mask250  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 250), big.NewInt(1))
	mask128  = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 128), big.NewInt(1))
	decimals = new(big.Int).Exp(big.NewInt(10), big.NewInt(Decimals), nil)
)

// Wallets omit leading zeroes, so the length is a range. The lower bound keeps
// Ethereum addresses out.
var l2AddressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{50,64}$`)

// IsL2Address reports whether s looks like a Starknet address.
func IsL2Address(s string) bool {
	return l2AddressPattern.MatchString(s)
}

// Hex formats v as a 0x-prefixed lowercase felt.
func Hex(v *big.Int) string {
	return "0x" + v.Text(16)
}

// ParseFelt parses a 0x-prefixed hex or decimal felt.
func ParseFelt(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	v, ok := new(big.Int), false
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		_, ok = v.SetString(s[2:], 16)
	} else {
		_, ok = v.SetString(s, 10)
	}
	if !ok || v.Sign() < 0 || v.Cmp(Prime) >= 0 {
		return nil, fmt.Errorf("chain: invalid felt %q", s)
	}
	return v, nil
}

// ShortString encodes up to 31 ASCII characters as one felt.
func ShortString(s string) (string, error) {
	if len(s) > 31 {
		return "", fmt.Errorf("chain: short string %q is longer than 31 bytes", s)
	}
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return "", fmt.Errorf("chain: short string %q is not ASCII", s)
		}
	}
	if s == "" {
		return "0x0", nil
	}
	return "0x" + hex.EncodeToString([]byte(s)), nil
}

// DecodeShortString is the inverse of ShortString.
func DecodeShortString(felt string) (string, error) {
	v, err := ParseFelt(felt)
	if err != nil {
		return "", err
	}
	return string(v.Bytes()), nil
}

// U256 splits v into its low and high 128-bit felts.
func U256(v *big.Int) (low, high string) {
	l := new(big.Int).And(v, mask128)
	h := new(big.Int).Rsh(v, 128)
	return Hex(l), Hex(h)
}

// ParseU256 joins low and high felts.
func ParseU256(low, high string) (*big.Int, error) {
	l, err := ParseFelt(low)
	if err != nil {
		return nil, err
	}
	h, err := ParseFelt(high)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Or(new(big.Int).Lsh(h, 128), l), nil
}

// Selector returns the entry point selector of name: keccak-256 truncated to
// 250 bits.
func Selector(name string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(name))
	v := new(big.Int).SetBytes(h.Sum(nil))
	return Hex(v.And(v, mask250))
}

// ToWei scales a whole token amount by the token decimals.
func ToWei(amount *big.Int) *big.Int {
	return new(big.Int).Mul(amount, decimals)
}

// FromWei drops the token decimals.
func FromWei(amount *big.Int) *big.Int {
	return new(big.Int).Quo(amount, decimals)
}

// RandomSalt returns a random felt for contract deployment.
func RandomSalt() (string, error) {
	b := make([]byte, 31)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("chain: salt: %w", err)
	}
	return Hex(new(big.Int).SetBytes(b)), nil
}
