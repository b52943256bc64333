package server

import (
	"context"
	"errors"
	"fmt"

	"github.com/marmos91/dittocifs/pkg/account"
)

// ErrLogonFailure is returned by an Authenticator that rejects a client.
var ErrLogonFailure = errors.New("logon failure")

// AuthRequest is the SESSION_SETUP input handed to an Authenticator.
type AuthRequest struct {
	ClientAddr    string
	SecurityBlob  []byte
	PrevSessionID uint64
}

// Authenticator decides who a SESSION_SETUP belongs to. A nil account
// with a nil error establishes a guest session. Token validation for
// NTLM, Kerberos or SPNEGO lives behind this interface.
type Authenticator interface {
	Authenticate(ctx context.Context, req AuthRequest) (*account.UserAccount, error)
}

// GuestAuthenticator admits every client as guest when AllowGuest is set.
// With GuestAccount set, guest sessions run as that account instead, which
// must exist in Accounts and be enabled.
type GuestAuthenticator struct {
	AllowGuest   bool
	GuestAccount string
	Accounts     *account.List
}

func (g GuestAuthenticator) Authenticate(context.Context, AuthRequest) (*account.UserAccount, error) {
	if !g.AllowGuest {
		return nil, ErrLogonFailure
	}
	if g.GuestAccount == "" {
		return nil, nil
	}
	if g.Accounts == nil {
		return nil, fmt.Errorf("%w: no account list for guest account %s", ErrLogonFailure, g.GuestAccount)
	}
	u := g.Accounts.Find(g.GuestAccount)
	if u == nil || u.Disabled {
		return nil, fmt.Errorf("%w: guest account %s unavailable", ErrLogonFailure, g.GuestAccount)
	}
	return u, nil
}
