package validators

import (
	"errors"
	"strings"
)

var ErrMissingToken = errors.New("missing bearer token")

// BearerToken extracts the token from an Authorization header value. The
// "Bearer" scheme is optional and matched case-insensitively.
func BearerToken(header string) (string, error) {
	token := strings.TrimSpace(header)
	scheme, rest, found := strings.Cut(token, " ")
	if strings.EqualFold(scheme, "bearer") {
		token = ""
		if found {
			token = strings.TrimSpace(rest)
		}
	}
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}
