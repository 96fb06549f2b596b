// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package netutil

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/idna"
)

// JoinURL appends path segments to an API base URL. The base may carry a
// path prefix such as /v1.
func JoinURL(base string, elem ...string) (string, error) {
	u, err := ParseBaseURL(base)
	if err != nil {
		return "", err
	}
	return u.JoinPath(elem...).String(), nil
}

// ParseBaseURL accepts http(s) URLs without fragments or credentials and
// normalizes internationalized hosts.
func ParseBaseURL(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("base url must be http or https: %q", raw)
	}
	if u.Host == "" || u.Hostname() == "" {
		return nil, fmt.Errorf("base url has no host: %q", raw)
	}
	if u.User != nil || u.Fragment != "" {
		return nil, fmt.Errorf("base url must not carry credentials or fragment: %q", raw)
	}
	host, err := idna.Lookup.ToASCII(u.Hostname())
	if err != nil {
		return nil, fmt.Errorf("invalid host %q: %w", u.Hostname(), err)
	}
	if port := u.Port(); port != "" {
		host = host + ":" + port
	}
	u.Scheme = scheme
	u.Host = strings.ToLower(host)
	return u, nil
}
