package smtptest

import (
	"encoding/base64"
	"errors"
	"strings"
)

var (
	errBadEncoding = errors.New("invalid base64 encoding")
	errBadFormat   = errors.New("invalid AUTH PLAIN format")
	errAuthFailed  = errors.New("authentication failed")
)

// Authenticator checks client credentials for the relay's AUTH command.
type Authenticator struct {
	username string
	password string
}

// NewAuthenticator returns an Authenticator for one account. An empty
// username or password disables authentication.
func NewAuthenticator(username, password string) *Authenticator {
	return &Authenticator{username: username, password: password}
}

// Enabled reports whether clients must authenticate.
func (a *Authenticator) Enabled() bool {
	return a.username != "" && a.password != ""
}

// VerifyPlain checks an AUTH PLAIN response: base64(authzid\0authcid\0passwd).
// The authorization identity is ignored.
func (a *Authenticator) VerifyPlain(encoded string) error {
	raw, err := decode(encoded)
	if err != nil {
		return err
	}

	parts := strings.SplitN(raw, "\x00", 3)
	if len(parts) != 3 {
		return errBadFormat
	}
	return a.check(parts[1], parts[2])
}

// VerifyLogin checks the two base64 responses of an AUTH LOGIN exchange.
func (a *Authenticator) VerifyLogin(encodedUser, encodedPass string) error {
	user, err := decode(encodedUser)
	if err != nil {
		return err
	}
	pass, err := decode(encodedPass)
	if err != nil {
		return err
	}
	return a.check(user, pass)
}

func (a *Authenticator) check(user, pass string) error {
	if user != a.username || pass != a.password {
		return errAuthFailed
	}
	return nil
}

func decode(s string) (string, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", errBadEncoding
	}
	return string(b), nil
}
