// Package account holds the local user accounts the server authenticates
// against, keyed case-insensitively by name.
package account

import (
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/crypto/md4"
)

var (
	ErrNotFound    = errors.New("account not found")
	ErrInvalidName = errors.New("invalid account name")
)

// MaxNameLength is the longest name Windows accepts for a local account.
const MaxNameLength = 20

// UserAccount is a local account. Only the NT hash of the password is kept.
type UserAccount struct {
	Name     string
	FullName string
	Comment  string
	NTHash   [16]byte
	Disabled bool
	Created  time.Time
}

// NewUserAccount creates an account with the NT hash of password.
func NewUserAccount(name, password string) (*UserAccount, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	return &UserAccount{Name: name, NTHash: NTHash(password), Created: time.Now().UTC()}, nil
}

// NTHash is MD4 over the UTF-16LE encoding of password.
func NTHash(password string) [16]byte {
	units := utf16.Encode([]rune(password))
	buf := make([]byte, 0, len(units)*2)
	for _, u := range units {
		buf = append(buf, byte(u), byte(u>>8))
	}
	h := md4.New()
	h.Write(buf)
	var out [16]byte
	copy(out[:], h.Sum(nil))
	return out
}

// SetPassword replaces the stored hash.
func (u *UserAccount) SetPassword(password string) { u.NTHash = NTHash(password) }

// CheckPassword compares password against the stored hash in constant time.
func (u *UserAccount) CheckPassword(password string) bool {
	h := NTHash(password)
	return subtle.ConstantTimeCompare(h[:], u.NTHash[:]) == 1
}

// HashHex returns the NT hash as lower-case hex, the form stores persist.
func (u *UserAccount) HashHex() string { return hex.EncodeToString(u.NTHash[:]) }

// SetHashHex parses a hash produced by HashHex.
func (u *UserAccount) SetHashHex(s string) error {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(u.NTHash) {
		return fmt.Errorf("invalid NT hash for %q", u.Name)
	}
	copy(u.NTHash[:], b)
	return nil
}

// Key is the case-folded lookup key for name.
func Key(name string) string { return strings.ToLower(name) }

func (u *UserAccount) Clone() *UserAccount {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// ValidateName rejects names Windows would refuse for a local account.
func ValidateName(name string) error {
	if name == "" || len(name) > MaxNameLength {
		return fmt.Errorf("%w: %q must be 1-%d characters", ErrInvalidName, name, MaxNameLength)
	}
	if strings.ContainsAny(name, `"/\[]:;|=,+*?<>@`) || strings.TrimRight(name, ". ") != name {
		return fmt.Errorf("%w: %q contains reserved characters", ErrInvalidName, name)
	}
	return nil
}
