package saxo_openapi

import (
	"fmt"
	"strings"
)

// TokenSource supplies the bearer token sent with every request.
type TokenSource interface {
	GetToken() (string, error)
}

// StaticToken is a fixed bearer token, e.g. a 24h developer token.
type StaticToken string

func (t StaticToken) GetToken() (string, error) {
	token := strings.TrimSpace(string(t))
	if token == "" {
		return "", fmt.Errorf("no access token configured")
	}
	return token, nil
}
