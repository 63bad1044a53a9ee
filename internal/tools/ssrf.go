package tools

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"syscall"
	"time"

	"github.com/restflow/restflow/internal/net/ssrf"
)

// SafeHTTPClient returns an http.Client whose dialer re-validates every
// resolved address at connect time, closing the DNS-rebinding TOCTOU gap a
// single pre-flight hostname check would leave open: ValidatePublicHostname
// runs a first lookup to fail fast, and the dialer's Control callback pins
// the connection to the address the OS actually dials.
//
// Grounded on internal/net/ssrf/{ip,hostname}.go, previously unwired in the
// teacher tree; adapted here into the transport layer every HTTP-capable
// tool shares.
func SafeHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(network, address string, c syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				host = address
			}
			if ssrf.IsPrivateIPAddress(host) {
				return ssrf.NewSSRFBlockedError(fmt.Sprintf("blocked: connection to private address %s", host))
			}
			return nil
		},
	}
	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConns:        50,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Transport: transport, Timeout: timeout, CheckRedirect: noPrivateRedirect}
}

// noPrivateRedirect re-validates the hostname of every redirect hop so a
// 3xx response cannot be used to pivot a request onto an internal address
// after the initial URL passed validation.
func noPrivateRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return fmt.Errorf("tools: stopped after 10 redirects")
	}
	return ValidateOutboundURL(req.URL.String())
}

// ValidateOutboundURL checks a fully-formed URL against the SSRF hostname
// and private-IP rules before any network call is attempted.
func ValidateOutboundURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("tools: invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("tools: unsupported scheme %q", u.Scheme)
	}
	return ssrf.ValidatePublicHostname(u.Hostname())
}
