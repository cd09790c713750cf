// Package validators checks request fields and config values before they
// reach the stores
package validators

import (
	"errors"
	"net/mail"
	"strings"
)

var (
	ErrAdminEmailEmpty   = errors.New("admin email is empty")
	ErrAdminEmailInvalid = errors.New("admin email must be a bare address like admin@example.com")
)

// AdminEmailValidator checks the bootstrap admin address. Display names and
// angle brackets are rejected since the value is stored as is
func AdminEmailValidator(e string) error {
	if strings.TrimSpace(e) == "" {
		return ErrAdminEmailEmpty
	}

	addr, err := mail.ParseAddress(e)
	if err != nil || addr.Address != e {
		return ErrAdminEmailInvalid
	}

	return nil
}
