package smtp

import "encoding/base64"

// authLogin runs the AUTH LOGIN exchange (RFC 4954, draft-murchison-sasl-login).
// Every step must succeed; there is no partial-auth continuation.
func (s *session) authLogin(username, password string) error {
	if err := s.send("AUTH LOGIN"+crlf, CodeAuthContinue); err != nil {
		return err
	}

	user := base64.StdEncoding.EncodeToString([]byte(username))
	if err := s.sendSecret("AUTH LOGIN username", user+crlf, CodeAuthContinue); err != nil {
		return err
	}

	pass := base64.StdEncoding.EncodeToString([]byte(password))
	if err := s.sendSecret("AUTH LOGIN password", pass+crlf, CodeAuthOK); err != nil {
		return err
	}

	return nil
}
