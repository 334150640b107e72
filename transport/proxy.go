package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// ErrUnsupportedProxy is returned for proxy types other than socks5 and http.
var ErrUnsupportedProxy = errors.New("unsupported proxy type")

// ProxyConfig describes an outbound proxy for datacenter connections.
type ProxyConfig struct {
	Type     string // "socks5" or "http"
	Host     string
	Port     uint16
	Username string
	Password string
}

// Address returns host:port of the proxy.
func (c *ProxyConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(int(c.Port)))
}

// NewDialer returns a direct dialer, or one routed through cfg when it is
// non-nil.
func NewDialer(timeout time.Duration, cfg *ProxyConfig) (Dialer, error) {
	direct := &net.Dialer{Timeout: timeout}
	if cfg == nil || cfg.Type == "" {
		return direct, nil
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewDialer",
		"proxy_type": cfg.Type,
		"proxy_addr": cfg.Address(),
	}).Info("Routing datacenter connections through proxy")

	switch cfg.Type {
	case "socks5":
		var auth *proxy.Auth
		if cfg.Username != "" || cfg.Password != "" {
			auth = &proxy.Auth{User: cfg.Username, Password: cfg.Password}
		}
		d, err := proxy.SOCKS5("tcp", cfg.Address(), auth, direct)
		if err != nil {
			return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
		}
		cd, ok := d.(proxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("SOCKS5 dialer does not support contexts")
		}
		return contextDialer{cd}, nil

	case "http":
		u := &url.URL{Scheme: "http", Host: cfg.Address()}
		if cfg.Username != "" {
			if cfg.Password != "" {
				u.User = url.UserPassword(cfg.Username, cfg.Password)
			} else {
				u.User = url.User(cfg.Username)
			}
		}
		return &httpProxyDialer{proxyURL: u, forward: direct, timeout: timeout}, nil

	default:
		return nil, fmt.Errorf("%w: %s (must be 'socks5' or 'http')", ErrUnsupportedProxy, cfg.Type)
	}
}

type contextDialer struct {
	proxy.ContextDialer
}

// httpProxyDialer tunnels TCP through an HTTP CONNECT proxy.
type httpProxyDialer struct {
	proxyURL *url.URL
	forward  *net.Dialer
	timeout  time.Duration
}

// DialContext connects to addr via the CONNECT method.
func (d *httpProxyDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network != "tcp" {
		return nil, fmt.Errorf("HTTP CONNECT proxy only supports TCP, got: %s", network)
	}

	conn, err := d.forward.DialContext(ctx, "tcp", d.proxyURL.Host)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to proxy: %w", err)
	}

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if d.proxyURL.User != nil {
		password, _ := d.proxyURL.User.Password()
		req.SetBasicAuth(d.proxyURL.User.Username(), password)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	} else if d.timeout > 0 {
		conn.SetDeadline(time.Now().Add(d.timeout))
	}

	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to write CONNECT request: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to read CONNECT response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		conn.Close()
		return nil, fmt.Errorf("proxy returned non-200 status: %s", resp.Status)
	}

	conn.SetDeadline(time.Time{})
	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

// bufferedConn drains bytes the proxy sent right after its response before
// reading from the socket again.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}
