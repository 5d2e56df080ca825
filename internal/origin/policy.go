// Package origin decides whether the resource server shares the caller's origin
// and which credentials may be sent to it.
package origin

import (
	"net/url"
	"strings"
	"sync"

	"github.com/fivetwenty-io/docbridge/pkg/docbridge"
)

// Classification is the result of comparing two origins.
type Classification struct {
	CrossOrigin bool
	SelfOrigin  string
	Target      string
}

// Policy classifies origins and derives cookie and security token inclusion.
// The cross-origin notice is logged at most once per Policy.
type Policy struct {
	logger   docbridge.Logger
	mutex    sync.Mutex
	reported bool
}

// NewPolicy creates a policy that reports through logger.
func NewPolicy(logger docbridge.Logger) *Policy {
	if logger == nil {
		logger = docbridge.NopLogger{}
	}

	return &Policy{logger: logger}
}

// Classify compares selfOrigin with the origin of targetBaseURL. An empty
// selfOrigin means the caller is the server's own session. A target that cannot
// be parsed is treated as cross-origin.
func (p *Policy) Classify(selfOrigin, targetBaseURL string) Classification {
	target, ok := Of(targetBaseURL)
	if !ok {
		return p.cross(Classification{CrossOrigin: true, SelfOrigin: selfOrigin, Target: targetBaseURL})
	}

	if strings.TrimSpace(selfOrigin) == "" {
		return Classification{SelfOrigin: target, Target: target}
	}

	self, ok := Of(selfOrigin)
	if !ok || self != target {
		return p.cross(Classification{CrossOrigin: true, SelfOrigin: selfOrigin, Target: target})
	}

	return Classification{SelfOrigin: self, Target: target}
}

func (p *Policy) cross(cls Classification) Classification {
	p.mutex.Lock()
	first := !p.reported
	p.reported = true
	p.mutex.Unlock()

	if first {
		p.logger.Info("Cross-origin resource server: cookies and security token are withheld", map[string]interface{}{
			"self_origin": cls.SelfOrigin,
			"target":      cls.Target,
		})
	}

	return cls
}

// AttachCookies reports whether cookies may be sent.
func AttachCookies(cls Classification, forceCookies bool) bool {
	return !cls.CrossOrigin || forceCookies
}

// AttachSecurityToken reports whether the security token may be sent.
func AttachSecurityToken(cls Classification) bool {
	return !cls.CrossOrigin
}

// Of returns the scheme://host[:port] origin of raw, with default ports removed.
func Of(raw string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}

	scheme := strings.ToLower(parsed.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", false
	}

	host := strings.ToLower(parsed.Hostname())
	port := parsed.Port()

	if (scheme == "http" && port == "80") || (scheme == "https" && port == "443") {
		port = ""
	}

	if port != "" {
		host += ":" + port
	}

	return scheme + "://" + host, true
}
