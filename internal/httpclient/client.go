package httpclient

import (
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"subsidypay/internal/logging"
)

// ProxyModeEnv selects how outbound calls treat HTTP(S)_PROXY settings.
// "direct" ignores proxies; anything else honors the environment, except
// for loopback targets which are always dialed directly.
const ProxyModeEnv = "SUBSIDYPAY_PROXY_MODE"

// New returns an http.Client configured for outbound requests.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: Transport(logger),
	}
}

// Transport returns an http.Transport clone with the outbound proxy policy.
func Transport(logger logging.Logger) *http.Transport {
	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return &http.Transport{Proxy: proxyFunc(logger)}
	}
	transport := base.Clone()
	transport.Proxy = proxyFunc(logger)
	return transport
}

func proxyFunc(logger logging.Logger) func(*http.Request) (*url.URL, error) {
	log := logging.OrNop(logger)
	direct := strings.EqualFold(strings.TrimSpace(os.Getenv(ProxyModeEnv)), "direct")

	return func(req *http.Request) (*url.URL, error) {
		if direct {
			return nil, nil
		}
		if req != nil && req.URL != nil && isLoopbackHost(req.URL.Hostname()) {
			return nil, nil
		}
		proxyURL, err := http.ProxyFromEnvironment(req)
		if err != nil {
			log.Warn("Ignoring invalid proxy environment: %v", err)
			return nil, nil
		}
		return proxyURL, nil
	}
}

func isLoopbackHost(host string) bool {
	host = strings.TrimSpace(host)
	if host == "" {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsUnspecified()
}
