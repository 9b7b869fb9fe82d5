// Package deeplink wraps range tokens in opaque start-link payloads.
//
// The wire format is unpadded base64url of "get-<token>". The "get-" prefix
// reserves room to multiplex other payload kinds over the same start
// parameter later without breaking already-published links; changing this
// codec breaks every link in the channel, so treat it as a frozen contract.
package deeplink

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidPayload is returned for payloads that do not decode to a
// "get-" prefixed token.
var ErrInvalidPayload = errors.New("invalid start payload")

const fetchPrefix = "get-"

// MakeLink builds the public deep link for a range token.
func MakeLink(botUsername, token string) string {
	payload := base64.RawURLEncoding.EncodeToString([]byte(fetchPrefix + token))
	return fmt.Sprintf("https://t.me/%s?start=%s", botUsername, payload)
}

// ResolvePayload recovers the range token from an incoming start payload.
func ResolvePayload(payload string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimSpace(payload))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	token, ok := strings.CutPrefix(string(raw), fetchPrefix)
	if !ok {
		return "", fmt.Errorf("%w: unknown payload kind", ErrInvalidPayload)
	}
	return token, nil
}
