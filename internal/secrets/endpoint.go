package secrets

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// validateEndpoint rejects API base URLs that could leak the rotated
// credential somewhere other than the intended store. HTTPS is required
// except for loopback hosts, which tests use.
func validateEndpoint(raw string, allowHosts []string) error {
	if strings.TrimSpace(raw) == "" {
		return fmt.Errorf("endpoint is empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}

	host := strings.ToLower(strings.TrimSpace(u.Hostname()))
	if host == "" {
		return fmt.Errorf("endpoint missing host")
	}

	scheme := strings.ToLower(strings.TrimSpace(u.Scheme))
	if scheme != "https" && !(scheme == "http" && isLoopbackHost(host)) {
		return fmt.Errorf("refusing endpoint scheme %q (host=%q)", scheme, host)
	}

	if isLoopbackHost(host) {
		return nil
	}

	for _, allowed := range allowHosts {
		allowed = strings.ToLower(strings.TrimSpace(allowed))
		if allowed == "" {
			continue
		}
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}

	return fmt.Errorf("refusing endpoint host %q (not allowlisted)", host)
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
