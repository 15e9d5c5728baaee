// Package gcpauth builds client options shared by the Google Cloud clients.
package gcpauth

import (
	"encoding/base64"
	"fmt"
	"strings"

	"google.golang.org/api/option"
)

// ClientOptions prefers base64 encoded service account JSON, then a key file,
// then application default credentials.
func ClientOptions(keyFile, credentialsBase64 string) ([]option.ClientOption, error) {
	if encoded := strings.TrimSpace(credentialsBase64); encoded != "" {
		decoded, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("decode credentials: %w", err)
		}
		return []option.ClientOption{option.WithAuthCredentialsJSON(option.ServiceAccount, decoded)}, nil
	}
	if path := strings.TrimSpace(keyFile); path != "" {
		return []option.ClientOption{option.WithAuthCredentialsFile(option.ServiceAccount, path)}, nil
	}
	return nil, nil
}
