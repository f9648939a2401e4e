package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
	"net/http"
)

// SignatureHeader carries the carrier's request signature on the websocket
// upgrade request.
const SignatureHeader = "X-Voxline-Signature"

// signRequest computes the expected signature for an upgrade request: a
// base64 HMAC-SHA256 over the request URL as the carrier saw it.
func signRequest(secret string, r *http.Request) string {
	mac := hmac.New(sha256.New, []byte(secret))
	scheme := "wss"
	if r.TLS == nil {
		scheme = "ws"
	}
	mac.Write([]byte(scheme + "://" + r.Host + r.URL.RequestURI()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// verifySignature checks the upgrade request against the shared secret. An
// empty secret disables verification; the request is admitted with a warning
// so a misconfigured deployment degrades loudly instead of going dark.
func verifySignature(secret string, r *http.Request) bool {
	if secret == "" {
		slog.Warn("gateway: webhook secret not configured, accepting unsigned connection",
			slog.String("remote", r.RemoteAddr))
		return true
	}
	got := r.Header.Get(SignatureHeader)
	if got == "" {
		return false
	}
	want := signRequest(secret, r)
	return hmac.Equal([]byte(got), []byte(want))
}
