// Package httpx builds the HTTP clients the fetch pipeline uses. Every client
// carries an explicit timeout and optional proxy routing; callers never share
// a process-wide default client.
package httpx

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"
)

// DefaultUserAgent is sent when a metadata record does not specify one.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Options configures a client build.
type Options struct {
	Timeout  time.Duration
	ProxyURL string // http://, https:// or socks5://; empty means direct
}

// NewClient returns an *http.Client honoring the given timeout and proxy.
// SOCKS5 proxies are dialed through golang.org/x/net/proxy; HTTP(S) proxies
// go through the transport's Proxy hook.
func NewClient(opts Options) (*http.Client, error) {
	transport := &http.Transport{
		MaxIdleConns:        32,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy url %q: %w", opts.ProxyURL, err)
		}
		switch proxyURL.Scheme {
		case "http", "https":
			transport.Proxy = http.ProxyURL(proxyURL)
		case "socks5", "socks5h":
			var auth *proxy.Auth
			if proxyURL.User != nil {
				password, _ := proxyURL.User.Password()
				auth = &proxy.Auth{User: proxyURL.User.Username(), Password: password}
			}
			dialer, err := proxy.SOCKS5("tcp", proxyURL.Host, auth, &net.Dialer{Timeout: 30 * time.Second})
			if err != nil {
				return nil, fmt.Errorf("socks5 proxy %q: %w", proxyURL.Host, err)
			}
			if ctxDialer, ok := dialer.(proxy.ContextDialer); ok {
				transport.DialContext = ctxDialer.DialContext
			}
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", proxyURL.Scheme)
		}
	}

	return &http.Client{
		Timeout:   opts.Timeout,
		Transport: transport,
	}, nil
}

// HeaderContext is the request context a platform requires for its CDN to
// serve media instead of an error page.
type HeaderContext struct {
	UserAgent         string
	RefererURL        string
	DefaultRefererURL string
	OriginURL         string
	Extra             map[string]string
}

// ApplyHeaders sets the context headers on an outgoing request. RefererURL
// wins over DefaultRefererURL; extras are applied last so platform parsers
// can override anything.
func ApplyHeaders(req *http.Request, hc HeaderContext) {
	ua := hc.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	referer := hc.RefererURL
	if referer == "" {
		referer = hc.DefaultRefererURL
	}
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	if hc.OriginURL != "" {
		req.Header.Set("Origin", hc.OriginURL)
	}
	for k, v := range hc.Extra {
		req.Header.Set(k, v)
	}
}
