// Package httpclient builds the HTTP client used for remote dump
// downloads. Destinations on loopback, private and link-local networks are
// refused, both when a URL is checked (including every redirect) and again
// at dial time once the host name has been resolved.
package httpclient

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/teranos/kestrel/errors"
)

// ErrBlocked marks destinations refused by the client's policy.
var ErrBlocked = errors.New("destination blocked")

// reserved lists ranges a dump download never needs to reach by default
var reserved = []netip.Prefix{
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("fc00::/7"),
	netip.MustParsePrefix("fec0::/10"),
	netip.MustParsePrefix("2001:db8::/32"),
}

// SaferClient is an http.Client restricted to public http(s) hosts.
type SaferClient struct {
	*http.Client
	schemes      []string
	private      bool
	maxRedirects int
}

// Option customizes a SaferClient
type Option func(*SaferClient)

// AllowPrivateNetworks permits loopback and private destinations, for
// downloads from hosts on the analyst's own network.
func AllowPrivateNetworks() Option {
	return func(c *SaferClient) { c.private = true }
}

// WithMaxRedirects overrides the redirect limit (default 10)
func WithMaxRedirects(n int) Option {
	return func(c *SaferClient) { c.maxRedirects = n }
}

// NewSaferClient returns a client whose requests time out after timeout.
func NewSaferClient(timeout time.Duration, opts ...Option) *SaferClient {
	c := &SaferClient{
		Client:       &http.Client{Timeout: timeout},
		schemes:      []string{"http", "https"},
		maxRedirects: 10,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.CheckRedirect = c.checkRedirect
	if !c.private {
		c.Transport = guardedTransport()
	}
	return c
}

func (c *SaferClient) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= c.maxRedirects {
		return errors.Newf("stopped after %d redirects", c.maxRedirects)
	}
	if err := c.check(req.URL); err != nil {
		return errors.Wrapf(err, "redirect to %s", req.URL.Redacted())
	}
	return nil
}

// guardedTransport resolves the host itself so a public name pointing at
// a private address is refused before any connection is made.
func guardedTransport() *http.Transport {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.Proxy = http.ProxyFromEnvironment
	t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, port, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "dial %s", addr)
		}
		addrs, err := net.DefaultResolver.LookupNetIP(ctx, "ip", host)
		if err != nil {
			return nil, errors.Wrapf(err, "resolve %s", host)
		}
		for _, a := range addrs {
			if reservedAddr(a) {
				return nil, errors.Mark(errors.Newf("%s resolves to reserved address %s", host, a), ErrBlocked)
			}
		}
		if len(addrs) == 0 {
			return nil, errors.Newf("resolve %s: no addresses", host)
		}
		return dialer.DialContext(ctx, network, net.JoinHostPort(addrs[0].String(), port))
	}
	return t
}

// ValidateURL parses raw and checks it against the client's policy.
func (c *SaferClient) ValidateURL(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Wrap(err, "invalid URL")
	}
	if err := c.check(u); err != nil {
		return nil, err
	}
	return u, nil
}

func (c *SaferClient) check(u *url.URL) error {
	blocked := func(format string, args ...interface{}) error {
		return errors.Mark(errors.Newf(format, args...), ErrBlocked)
	}

	if scheme := strings.ToLower(u.Scheme); !slices.Contains(c.schemes, scheme) {
		return blocked("scheme %q not allowed, want one of %s", scheme, strings.Join(c.schemes, ", "))
	}
	// http://evil.com@localhost/
	if u.User != nil {
		return blocked("URL contains credentials")
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return blocked("URL has no hostname")
	}
	if c.private {
		return nil
	}
	if host == "localhost" || host == "localhost.localdomain" || strings.HasSuffix(host, ".localhost") {
		return blocked("localhost destination %q", host)
	}
	if ip := net.ParseIP(host); ip != nil && isPrivateIP(ip) {
		return blocked("private IP destination %s", host)
	}
	return nil
}

func isPrivateIP(ip net.IP) bool {
	a, ok := netip.AddrFromSlice(ip)
	return ok && reservedAddr(a)
}

func reservedAddr(a netip.Addr) bool {
	a = a.Unmap()
	if a.IsLoopback() || a.IsLinkLocalUnicast() || a.IsMulticast() || a.IsUnspecified() {
		return true
	}
	for _, p := range reserved {
		if p.Contains(a) {
			return true
		}
	}
	return false
}

// Do checks req's URL before sending it.
func (c *SaferClient) Do(req *http.Request) (*http.Response, error) {
	if err := c.check(req.URL); err != nil {
		return nil, errors.Wrap(err, "request refused")
	}
	return c.Client.Do(req)
}
