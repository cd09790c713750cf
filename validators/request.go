package validators

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	ErrVisitorIDEmpty   = errors.New("no visitor id provided")
	ErrVisitorIDTooLong = errors.New("visitor id is too long")
	ErrKeyEmpty         = errors.New("API key is required")
	ErrKeyTooLong       = errors.New("API key is too long")
	ErrTaskEmpty        = errors.New("no task provided")
	ErrTaskInvalid      = errors.New("task must be valid JSON")
)

const (
	maxVisitorIDLen = 128
	maxKeyLen       = 255
)

func VisitorIDValidator(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrVisitorIDEmpty
	}

	if len(id) > maxVisitorIDLen {
		return ErrVisitorIDTooLong
	}

	return nil
}

func KeyValidator(k string) error {
	k = strings.TrimSpace(k)
	if k == "" {
		return ErrKeyEmpty
	}

	if len(k) > maxKeyLen {
		return ErrKeyTooLong
	}

	return nil
}

// TaskValidator only checks a task is present and is valid JSON. Its shape
// belongs to the solver, so strings, arrays and numbers pass too
func TaskValidator(t json.RawMessage) error {
	t = bytes.TrimSpace(t)
	if len(t) == 0 || bytes.Equal(t, []byte("null")) {
		return ErrTaskEmpty
	}

	if !json.Valid(t) {
		return ErrTaskInvalid
	}

	return nil
}

// FieldErrors turns binding errors into a field -> rule map. It returns nil
// for errors that didn't come from the validator
func FieldErrors(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}

		fields[fe.Field()] = rule
	}

	return fields
}
