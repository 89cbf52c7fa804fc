package api

import (
	"context"
	"io"
	"net/http"
	"strings"

	"chatsync/pkg/protocol"
)

const credentialPath = "/getcookies/"

// maxCredentialBytes bounds the credential body read.
const maxCredentialBytes = 64 << 10

// FetchCredential retrieves a short-lived credential for one connection
// attempt. Every failure (non-2xx, transport error, empty body) reports
// false; nothing is returned as an error.
func (c *Client) FetchCredential(ctx context.Context) (protocol.Credential, bool) {
	log := c.log.With("operation", "fetch_credential")

	resp, err := c.do(ctx, http.MethodGet, credentialPath, nil)
	if err != nil {
		log.Warn("Credential request failed", "error", err)
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		log.Warn("Credential request rejected", "status", resp.StatusCode)
		return "", false
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCredentialBytes))
	if err != nil {
		log.Warn("Credential body unreadable", "error", err)
		return "", false
	}

	token := normalizeCredential(string(body))
	if token == "" {
		log.Warn("Credential body empty")
		return "", false
	}

	return protocol.Credential(token), true
}

// normalizeCredential strips whitespace and the quotes a JSON-encoding server
// wraps around a bare string.
func normalizeCredential(body string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(body), `"`))
}
