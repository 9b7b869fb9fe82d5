package deeplink

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"
)

func TestLinkRoundTrip(t *testing.T) {
	t.Parallel()
	for _, token := range []string{"0", "42", "5-8", "5.6.8", "101-10000"} {
		link := MakeLink("animecast_bot", token)
		if !strings.HasPrefix(link, "https://t.me/animecast_bot?start=") {
			t.Fatalf("unexpected link shape: %q", link)
		}
		payload := strings.TrimPrefix(link, "https://t.me/animecast_bot?start=")

		got, err := ResolvePayload(payload)
		if err != nil {
			t.Fatalf("ResolvePayload(%q) error: %v", payload, err)
		}
		if got != token {
			t.Fatalf("round trip of %q = %q", token, got)
		}
	}
}

func TestPayloadIsUnpadded(t *testing.T) {
	t.Parallel()
	link := MakeLink("b", "5-8")
	if strings.Contains(link, "=") && !strings.Contains(link, "?start=") {
		t.Fatalf("payload should carry no padding: %q", link)
	}
	payload := strings.TrimPrefix(link, "https://t.me/b?start=")
	if strings.Contains(payload, "=") {
		t.Fatalf("payload carries padding: %q", payload)
	}
}

func TestResolvePayloadRejectsGarbage(t *testing.T) {
	t.Parallel()
	for _, payload := range []string{
		"",
		"!!!not-base64!!!",
		base64.RawURLEncoding.EncodeToString([]byte("put-5-8")), // wrong kind
		base64.RawURLEncoding.EncodeToString([]byte("5-8")),     // no prefix
	} {
		_, err := ResolvePayload(payload)
		if !errors.Is(err, ErrInvalidPayload) {
			t.Fatalf("ResolvePayload(%q): expected ErrInvalidPayload, got %v", payload, err)
		}
	}
}
