package middleware

import (
	"net"
	"strings"
)

// TrustedProxies holds additional trusted proxy IPs/CIDRs beyond private
// networks. By default all RFC 1918 private networks and loopback are
// trusted automatically. Add entries here only for public IPs that act
// as proxies (e.g. a CDN's published ranges).
var TrustedProxies []string

// privateNetworks contains RFC 1918 private ranges + loopback.
var privateNetworks []*net.IPNet

func init() {
	privateCIDRs := []string{
		"127.0.0.0/8",
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"::1/128",
		"fc00::/7",
	}
	for _, cidr := range privateCIDRs {
		_, network, _ := net.ParseCIDR(cidr)
		privateNetworks = append(privateNetworks, network)
	}
}

// ClientIP extracts the real client IP address, used as the rate
// limiter identifier (§4.3) for unauthenticated actions. Trusts
// X-Forwarded-For/X-Real-IP only when the direct connection is from a
// private network or an explicitly trusted proxy.
func ClientIP(remoteAddr, xForwardedFor, xRealIP string) string {
	remoteIP := stripPort(remoteAddr)

	if isTrustedProxy(remoteIP) {
		if xForwardedFor != "" {
			parts := strings.SplitN(xForwardedFor, ",", 2)
			clientIP := strings.TrimSpace(parts[0])
			if clientIP != "" {
				return clientIP
			}
		}
		if xRealIP != "" {
			return strings.TrimSpace(xRealIP)
		}
	}

	return remoteIP
}

func stripPort(addr string) string {
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		if bracketIdx := strings.LastIndex(addr, "]"); bracketIdx != -1 {
			return strings.TrimPrefix(addr[:bracketIdx], "[")
		}
		return addr[:idx]
	}
	return addr
}

func isTrustedProxy(ip string) bool {
	parsedIP := net.ParseIP(ip)
	if parsedIP != nil {
		for _, network := range privateNetworks {
			if network.Contains(parsedIP) {
				return true
			}
		}
	}

	for _, trusted := range TrustedProxies {
		if strings.Contains(trusted, "/") {
			_, network, err := net.ParseCIDR(trusted)
			if err == nil && parsedIP != nil && network.Contains(parsedIP) {
				return true
			}
		} else if trusted == ip {
			return true
		}
	}
	return false
}
