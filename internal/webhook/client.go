package webhook

import (
	"net"
	"net/http"
	"time"

	"github.com/everyskill/relay/internal/requestid"
)

const (
	// ClientTimeout is the total request timeout.
	ClientTimeout = 30 * time.Second
	// DialTimeout is the connection timeout.
	DialTimeout = 10 * time.Second
	// TLSHandshakeTimeout is the TLS negotiation timeout.
	TLSHandshakeTimeout = 10 * time.Second
	// ResponseHeaderTimeout is time to wait for response headers.
	ResponseHeaderTimeout = 15 * time.Second
)

// NewHTTPClient creates an HTTP client for webhook delivery. It never
// follows redirects.
func NewHTTPClient() *http.Client {
	return &http.Client{
		Timeout: ClientTimeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   DialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   TLSHandshakeTimeout,
			ResponseHeaderTimeout: ResponseHeaderTimeout,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Header names for webhook requests.
const (
	HeaderSignature  = "X-Relay-Signature"
	HeaderTimestamp  = "X-Relay-Timestamp"
	HeaderDeliveryID = "X-Relay-Delivery-Id"
	HeaderEvent      = "X-Relay-Event"
	HeaderRequestID  = requestid.Header
)

// HTTPHeaders contains the standard webhook headers.
type HTTPHeaders struct {
	Signature  string
	Timestamp  string
	DeliveryID string
	Event      string
	// RequestID is the ID of the request that caused the event, if any.
	RequestID string
}

// SetWebhookHeaders applies webhook headers to an HTTP request.
func SetWebhookHeaders(req *http.Request, headers HTTPHeaders) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(HeaderSignature, headers.Signature)
	req.Header.Set(HeaderTimestamp, headers.Timestamp)
	req.Header.Set(HeaderDeliveryID, headers.DeliveryID)
	req.Header.Set(HeaderEvent, headers.Event)
	if headers.RequestID != "" {
		req.Header.Set(HeaderRequestID, headers.RequestID)
	}
	req.Header.Set("User-Agent", "Relay-Webhook/1.0")
}
