package utils

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var ErrInvalidIP = errors.New("invalid IP address")

const forwardedForHeader = "X-Forwarded-For"

// ClientIP returns the address a request originated from. When trustForwarded
// is set, the first entry of X-Forwarded-For wins over the connection address.
func ClientIP(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if forwarded := r.Header.Get(forwardedForHeader); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
	}
	return remoteHost(r.RemoteAddr)
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return strings.TrimSpace(addr)
	}
	return host
}

// ValidateIP checks that ip parses as an IPv4 or IPv6 address.
func ValidateIP(ip string) error {
	if net.ParseIP(ip) == nil {
		return fmt.Errorf("%w: %q", ErrInvalidIP, ip)
	}
	return nil
}
