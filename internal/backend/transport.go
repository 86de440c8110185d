package backend

import (
	"context"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// httpClientCache caches clients by proxy URL so TCP/TLS connections are
// reused across requests. Cached clients are safe for concurrent use.
var (
	httpClientCache      = make(map[string]*http.Client)
	httpClientCacheMutex sync.RWMutex
)

const (
	defaultDialTimeout         = 30 * time.Second
	defaultKeepAlive           = 30 * time.Second
	defaultTLSHandshakeTimeout = 10 * time.Second
	// defaultResponseHeaderTimeout applies after the request is sent and
	// does not affect streaming body reads.
	defaultResponseHeaderTimeout = 60 * time.Second
	defaultIdleConnTimeout       = 90 * time.Second
	defaultExpectContinueTimeout = 1 * time.Second
)

// newHTTPClient returns a shared, proxy-aware HTTP client. Client.Timeout is
// never set so long-running streaming bodies are not cut off; slow or
// unresponsive servers are bounded by transport-level timeouts instead.
func newHTTPClient(proxyURL string) *http.Client {
	httpClientCacheMutex.RLock()
	if cached, ok := httpClientCache[proxyURL]; ok {
		httpClientCacheMutex.RUnlock()
		return cached
	}
	httpClientCacheMutex.RUnlock()

	transport := buildProxyTransport(proxyURL)
	if transport == nil {
		transport = buildDefaultTransport()
	}
	client := &http.Client{Transport: transport}

	httpClientCacheMutex.Lock()
	httpClientCache[proxyURL] = client
	httpClientCacheMutex.Unlock()
	return client
}

// buildProxyTransport creates a transport for the given proxy URL.
// SOCKS5, HTTP and HTTPS proxies are supported; an empty or invalid URL
// yields nil and the caller falls back to the default transport.
func buildProxyTransport(proxyURL string) *http.Transport {
	if proxyURL == "" {
		return nil
	}
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		log.Errorf("backend: parse proxy URL failed: %v", err)
		return nil
	}

	switch parsed.Scheme {
	case "socks5":
		var proxyAuth *proxy.Auth
		if parsed.User != nil {
			password, _ := parsed.User.Password()
			proxyAuth = &proxy.Auth{User: parsed.User.Username(), Password: password}
		}
		dialer, errSOCKS5 := proxy.SOCKS5("tcp", parsed.Host, proxyAuth, proxy.Direct)
		if errSOCKS5 != nil {
			log.Errorf("backend: create SOCKS5 dialer failed: %v", errSOCKS5)
			return nil
		}
		t := baseTransport()
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
		return t
	case "http", "https":
		t := baseTransport()
		t.Proxy = http.ProxyURL(parsed)
		return t
	default:
		log.Errorf("backend: unsupported proxy scheme: %s", parsed.Scheme)
		return nil
	}
}

func buildDefaultTransport() *http.Transport {
	return baseTransport()
}

func baseTransport() *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   defaultDialTimeout,
			KeepAlive: defaultKeepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		IdleConnTimeout:       defaultIdleConnTimeout,
		ExpectContinueTimeout: defaultExpectContinueTimeout,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		ForceAttemptHTTP2:     true,
	}
}
