package service

import (
	"FetchVault/config"
	"FetchVault/model"
	"fmt"
	"net"
	"net/url"
	"strings"
)

const maxSourceLength = 10000

// ValidationError rejects a malformed submission synchronously; no task
// row is ever created for one.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid submission: " + e.Reason
}

// ValidateSubmission checks a submission before any task is created.
func ValidateSubmission(sourceKind, source, mode, label string) error {
	if len(source) == 0 {
		return &ValidationError{Reason: "empty source"}
	}
	if len(source) > maxSourceLength {
		return &ValidationError{Reason: "source too long"}
	}
	if mode != model.ModeAuto && mode != model.ModeSelect {
		return &ValidationError{Reason: fmt.Sprintf("unknown mode %q", mode)}
	}
	if max := config.AppConfig.MaxLabelLength; max > 0 && len(label) > max {
		return &ValidationError{Reason: "label too long"}
	}
	switch sourceKind {
	case model.SourceSwarm:
		if !strings.HasPrefix(source, "magnet:?") {
			return &ValidationError{Reason: "not a magnet link"}
		}
		if _, err := ParseInfohash(source); err != nil {
			return err
		}
		return nil
	case model.SourceDirectURL:
		_, err := validateSourceURL(source)
		return err
	default:
		return &ValidationError{Reason: fmt.Sprintf("unknown source kind %q", sourceKind)}
	}
}

func hostAllowed(host string, allowlist []string) bool {
	if len(allowlist) == 0 {
		return true
	}
	host = strings.ToLower(strings.TrimSpace(host))
	for _, entry := range allowlist {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if strings.HasPrefix(entry, ".") {
			if strings.HasSuffix(host, entry) {
				return true
			}
			continue
		}
		if host == entry {
			return true
		}
	}
	return false
}

func isLocalHostname(host string) bool {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "localhost" || host == "localhost.localdomain" {
		return true
	}
	if strings.HasSuffix(host, ".local") {
		return true
	}
	return false
}

func isBlockedIP(ip net.IP) bool {
	if ip == nil {
		return true
	}
	if ip.IsLoopback() || ip.IsMulticast() || ip.IsLinkLocalMulticast() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return true
	}
	if ip.IsPrivate() {
		return true
	}
	return false
}

func validateSourceURL(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, &ValidationError{Reason: "invalid url"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, &ValidationError{Reason: "unsupported scheme"}
	}
	host := u.Hostname()
	if host == "" {
		return nil, &ValidationError{Reason: "missing host"}
	}
	if !hostAllowed(host, config.AppConfig.AllowedHosts) {
		return nil, &ValidationError{Reason: "host not allowed"}
	}
	if config.AppConfig.AllowPrivate {
		return u, nil
	}
	if isLocalHostname(host) {
		return nil, &ValidationError{Reason: "host not allowed"}
	}
	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return nil, &ValidationError{Reason: "ip not allowed"}
		}
		return u, nil
	}
	ips, err := net.LookupIP(host)
	if err != nil || len(ips) == 0 {
		return nil, &ValidationError{Reason: "host not resolvable"}
	}
	for _, ip := range ips {
		if isBlockedIP(ip) {
			return nil, &ValidationError{Reason: "ip not allowed"}
		}
	}
	return u, nil
}
