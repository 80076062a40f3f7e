package mp

import (
	"encoding/base64"
	"strings"

	"wxharvest/pkg/errors"
)

// NormalizeFakeID returns the base64 form the listing endpoint expects. A
// plain numeric biz id is encoded; a base64 value is kept when it decodes to
// digits.
func NormalizeFakeID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", errors.New(errors.ErrorTypeInvalidRequest, "fakeid is empty")
	}
	if isDigits(id) {
		return base64.StdEncoding.EncodeToString([]byte(id)), nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(id); err == nil && isDigits(string(decoded)) {
		return id, nil
	}
	return "", errors.New(errors.ErrorTypeInvalidRequest, "fakeid is neither numeric nor base64 of a numeric id: "+id)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
