package tools

import (
	"fmt"
	"strings"
)

// Ecosystem names an optional outbound-domain allowlist category, grounded
// on original_source/crates/restflow-traits/src/network.rs's
// NetworkEcosystem enum. Background-agent tools that shell out to package
// managers are restricted to these registries unless Custom domains are
// layered in.
type Ecosystem string

const (
	EcosystemDefaults Ecosystem = "defaults"
	EcosystemNode     Ecosystem = "node"
	EcosystemPython   Ecosystem = "python"
	EcosystemGo       Ecosystem = "go"
	EcosystemRust     Ecosystem = "rust"
)

var ecosystemDomains = map[Ecosystem][]string{
	EcosystemDefaults: {"github.com", "api.github.com", "raw.githubusercontent.com", "example.com"},
	EcosystemNode:     {"registry.npmjs.org", "npmjs.com", "yarnpkg.com"},
	EcosystemPython:   {"pypi.org", "files.pythonhosted.org"},
	EcosystemGo:       {"proxy.golang.org", "go.dev", "pkg.go.dev"},
	EcosystemRust:     {"crates.io", "static.crates.io"},
}

// DomainAllowlist restricts outbound hosts to a configured set of
// ecosystems plus an optional custom domain list.
type DomainAllowlist struct {
	ecosystems []Ecosystem
	custom     []string
}

// NewDomainAllowlist builds an allowlist over the given ecosystems, with an
// optional set of additional exact/subdomain-matched custom domains.
func NewDomainAllowlist(ecosystems []Ecosystem, custom ...string) *DomainAllowlist {
	return &DomainAllowlist{ecosystems: ecosystems, custom: custom}
}

// AllowedDomains flattens every configured ecosystem plus custom domains.
func (a *DomainAllowlist) AllowedDomains() []string {
	seen := make(map[string]bool)
	var out []string
	add := func(d string) {
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
	}
	for _, eco := range a.ecosystems {
		for _, d := range ecosystemDomains[eco] {
			add(d)
		}
	}
	for _, d := range a.custom {
		add(d)
	}
	return out
}

// IsHostAllowed reports whether host exactly matches, or is a subdomain of,
// a domain in the allowlist. Bare TLDs never match via the subdomain rule.
func (a *DomainAllowlist) IsHostAllowed(host string) bool {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	for _, domain := range a.AllowedDomains() {
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// CheckHost returns an error naming the allowlist violation, suitable for
// classification as a Config error by the tool taxonomy.
func (a *DomainAllowlist) CheckHost(host string) error {
	if a.IsHostAllowed(host) {
		return nil
	}
	return fmt.Errorf("host %q is not on the allowlist (%s)", host, strings.Join(a.AllowedDomains(), ", "))
}
