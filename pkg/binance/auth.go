package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
)

const apiKeyHeader = "X-MBX-APIKEY"

// Authenticator signs private endpoint requests.
type Authenticator interface {
	Sign(payload string) string
	AddAuthHeaders(req http.Header)
}

// HMACAuthenticator uses the API key / secret pair issued by the exchange.
type HMACAuthenticator struct {
	apiKey    string
	apiSecret string
}

func NewHMACAuthenticator(apiKey, apiSecret string) *HMACAuthenticator {
	return &HMACAuthenticator{
		apiKey:    apiKey,
		apiSecret: apiSecret,
	}
}

// Sign returns the hex HMAC-SHA256 of the encoded query string.
func (a *HMACAuthenticator) Sign(payload string) string {
	h := hmac.New(sha256.New, []byte(a.apiSecret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

func (a *HMACAuthenticator) AddAuthHeaders(header http.Header) {
	header.Set(apiKeyHeader, a.apiKey)
}
