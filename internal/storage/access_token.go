package storage

import (
	"fmt"
	"os"
	"strings"
)

// SaveAccessToken writes the bearer token to a file with restrictive
// permissions.
func SaveAccessToken(path, token string) error {
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("empty token")
	}
	if err := os.WriteFile(path, []byte(token), 0o600); err != nil {
		return fmt.Errorf("failed to write token: %w", err)
	}
	return nil
}

// LoadAccessToken reads the bearer token from a file.
func LoadAccessToken(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read token: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	return token, nil
}
