package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/rescale/rescale-gallery/internal/config"
	"github.com/rescale/rescale-gallery/internal/constants"
)

// NewImageClient creates the client shared by the listing API and tier
// fetches. It starts from ConfigureHTTPClient and tunes the pool for many
// small concurrent requests: one in-flight tier fetch per visible box.
//
// HTTP/2 is on unless a proxy is active or DISABLE_HTTP2=true. FORCE_HTTP2=true
// keeps it on through a proxy.
//
// With a nil cfg the proxy comes from HTTP_PROXY/HTTPS_PROXY/NO_PROXY.
func NewImageClient(cfg *config.Config) (*nethttp.Client, error) {
	var baseClient *nethttp.Client
	var err error

	if cfg != nil {
		baseClient, err = ConfigureHTTPClient(cfg)
		if err != nil {
			return nil, err
		}
	} else {
		tr := newTransport()
		tr.Proxy = nethttp.ProxyFromEnvironment
		baseClient = &nethttp.Client{Transport: tr}
	}

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM wraps the transport in ntlmssp.Negotiator; leave it as is.
		baseClient.Timeout = 0
		return baseClient, nil
	}

	pageSize := constants.DefaultPageSize
	if cfg != nil && cfg.Viewport.PageSize > 0 {
		pageSize = cfg.Viewport.PageSize
	}

	// A full page of boxes each with one in-flight fetch, plus the range fetch
	tr.MaxIdleConnsPerHost = pageSize + 1
	tr.MaxConnsPerHost = pageSize + 1
	if tr.MaxIdleConns < tr.MaxIdleConnsPerHost {
		tr.MaxIdleConns = tr.MaxIdleConnsPerHost
	}
	tr.IdleConnTimeout = constants.HTTPIdleConnTimeout
	tr.ForceAttemptHTTP2 = true

	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" {
		disableHTTP2(tr)
	}

	if proxyActive(cfg) && os.Getenv("FORCE_HTTP2") != "true" {
		disableHTTP2(tr)
	}

	baseClient.Transport = tr
	baseClient.Timeout = 0 // per-request deadlines come from the caller's context

	return baseClient, nil
}

func disableHTTP2(tr *nethttp.Transport) {
	tr.ForceAttemptHTTP2 = false
	tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
}

func proxyActive(cfg *config.Config) bool {
	envProxy := os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
		os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
	if cfg == nil {
		return envProxy
	}
	switch cfg.ProxyMode {
	case "no-proxy", "":
		return false
	case "system":
		return envProxy
	default:
		return cfg.ProxyHost != ""
	}
}
