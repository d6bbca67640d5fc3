package crypto

import (
	"encoding/base64"
	"strings"
)

// ToBase64 encodes bytes to standard base64 with padding.
func ToBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// FromBase64 decodes standard base64. Missing padding and the URL-safe
// alphabet are accepted as well, since gateways differ in what they emit.
func FromBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}

	if data, err2 := base64.RawStdEncoding.DecodeString(s); err2 == nil {
		return data, nil
	}
	if data, err2 := base64.URLEncoding.DecodeString(s); err2 == nil {
		return data, nil
	}
	if data, err2 := base64.RawURLEncoding.DecodeString(s); err2 == nil {
		return data, nil
	}
	return nil, err
}
