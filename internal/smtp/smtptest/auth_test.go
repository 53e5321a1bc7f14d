package smtptest

import (
	"encoding/base64"
	"errors"
	"testing"
)

func b64(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func TestAuthenticator_Enabled(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		username string
		password string
		want     bool
	}{
		{name: "both set", username: "user", password: "pass", want: true},
		{name: "empty username", username: "", password: "pass", want: false},
		{name: "empty password", username: "user", password: "", want: false},
		{name: "both empty", want: false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := NewAuthenticator(tt.username, tt.password).Enabled(); got != tt.want {
				t.Errorf("Enabled(): got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAuthenticator_VerifyPlain(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("relayuser", "s3cret")

	tests := []struct {
		name    string
		encoded string
		wantErr error
	}{
		{name: "valid", encoded: b64("\x00relayuser\x00s3cret")},
		{name: "with authzid", encoded: b64("admin\x00relayuser\x00s3cret")},
		{name: "wrong password", encoded: b64("\x00relayuser\x00nope"), wantErr: errAuthFailed},
		{name: "wrong username", encoded: b64("\x00other\x00s3cret"), wantErr: errAuthFailed},
		{name: "not base64", encoded: "!!!", wantErr: errBadEncoding},
		{name: "missing separator", encoded: b64("relayuser s3cret"), wantErr: errBadFormat},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := auth.VerifyPlain(tt.encoded)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifyPlain(): got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestAuthenticator_VerifyLogin(t *testing.T) {
	t.Parallel()

	auth := NewAuthenticator("relayuser", "s3cret")

	tests := []struct {
		name    string
		user    string
		pass    string
		wantErr error
	}{
		{name: "valid", user: b64("relayuser"), pass: b64("s3cret")},
		{name: "wrong password", user: b64("relayuser"), pass: b64("nope"), wantErr: errAuthFailed},
		{name: "bad user encoding", user: "%%%", pass: b64("s3cret"), wantErr: errBadEncoding},
		{name: "bad password encoding", user: b64("relayuser"), pass: "%%%", wantErr: errBadEncoding},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := auth.VerifyLogin(tt.user, tt.pass)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("VerifyLogin(): got %v, want %v", err, tt.wantErr)
			}
		})
	}
}
