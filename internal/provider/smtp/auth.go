package smtp

import (
	"errors"
	"fmt"
	"net/smtp"
	"slices"
)

// ErrAuthNotSupported is returned when credentials are configured but the
// server does not advertise AUTH.
var ErrAuthNotSupported = errors.New("smtp: server doesn't support AUTH")

// requiredAuth picks a mechanism from the ones the server advertises, the
// same preference go-mail uses, and fails when none are advertised.
// go-mail silently skips authentication in that case.
type requiredAuth struct {
	username string
	password string
	host     string

	mech smtp.Auth
}

func (a *requiredAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	switch {
	case len(server.Auth) == 0:
		return "", nil, ErrAuthNotSupported
	case slices.Contains(server.Auth, "CRAM-MD5"):
		a.mech = smtp.CRAMMD5Auth(a.username, a.password)
	case slices.Contains(server.Auth, "LOGIN") && !slices.Contains(server.Auth, "PLAIN"):
		a.mech = &loginAuth{username: a.username, password: a.password}
	default:
		a.mech = smtp.PlainAuth("", a.username, a.password, a.host)
	}
	return a.mech.Start(server)
}

func (a *requiredAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	return a.mech.Next(fromServer, more)
}

// loginAuth implements AUTH LOGIN.
type loginAuth struct {
	username string
	password string
}

func (a *loginAuth) Start(server *smtp.ServerInfo) (string, []byte, error) {
	if !server.TLS && !isLocalhost(server.Name) {
		return "", nil, errors.New("smtp: unencrypted connection")
	}
	return "LOGIN", nil, nil
}

func (a *loginAuth) Next(fromServer []byte, more bool) ([]byte, error) {
	if !more {
		return nil, nil
	}
	switch string(fromServer) {
	case "Username:":
		return []byte(a.username), nil
	case "Password:":
		return []byte(a.password), nil
	default:
		return nil, fmt.Errorf("smtp: unexpected server challenge %q", fromServer)
	}
}

func isLocalhost(name string) bool {
	return name == "localhost" || name == "127.0.0.1" || name == "::1"
}
