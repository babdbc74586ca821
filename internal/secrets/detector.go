// Package secrets scans text for credential material: API keys, tokens,
// private keys, connection strings. The policy layer uses it to set the
// contains_secrets flag on requests; the audit exporter uses it to mask
// values before anything is written out.
package secrets

import (
	"regexp"
	"strings"
)

// Severity grades a finding.
type Severity int

const (
	SeverityLow    Severity = iota // public keys, emails, non-sensitive config
	SeverityMedium                 // tokens, session IDs, generic credentials
	SeverityHigh                   // API keys, passwords, private keys
)

func (s Severity) String() string {
	switch s {
	case SeverityHigh:
		return "high"
	case SeverityMedium:
		return "medium"
	default:
		return "low"
	}
}

// Pattern is one named detection rule.
type Pattern struct {
	Name        string
	Severity    Severity
	Description string
	re          *regexp.Regexp
}

// Finding is one detected secret, with the value already masked.
type Finding struct {
	PatternName string
	Severity    Severity
	Line        int // 1-based
	Position    int // byte offset
	Description string
	MaskedValue string
}

// ScanResult aggregates all findings over one piece of content.
type ScanResult struct {
	Findings    []Finding
	HighCount   int
	MediumCount int
	LowCount    int
	Sanitized   string
}

// Total reports the number of findings.
func (r *ScanResult) Total() int { return len(r.Findings) }

// Detector matches content against a fixed pattern set. It is immutable
// after construction and safe for concurrent use.
type Detector struct {
	patterns []Pattern
}

// NewDetector builds a detector with the default pattern set.
func NewDetector() *Detector {
	mk := func(name string, sev Severity, desc, expr string) Pattern {
		return Pattern{Name: name, Severity: sev, Description: desc, re: regexp.MustCompile(expr)}
	}
	return &Detector{patterns: []Pattern{
		mk("AWS Access Key ID", SeverityHigh, "AWS Access Key ID detected",
			`AKIA[0-9A-Z]{16,}`),
		mk("JWT Token", SeverityHigh, "JWT token detected",
			`eyJ[A-Za-z0-9_-]*\.eyJ[A-Za-z0-9_-]*\.[A-Za-z0-9_-]*`),
		mk("Private Key", SeverityHigh, "Private key detected",
			`-----BEGIN\s+(?:RSA\s+)?PRIVATE\s+KEY-----`),
		mk("Database Connection String", SeverityHigh, "Database connection string detected",
			`(?i)(?:mongodb|mysql|postgresql)://[^\s'"]+`),
		mk("Stripe API Key", SeverityHigh, "Stripe API key detected",
			`sk[_-](?:test|live)?[_-]?[A-Za-z0-9]{10,}`),
		mk("GitHub Token", SeverityMedium, "GitHub personal access token detected",
			`ghp_[A-Za-z0-9]{20,}`),
		mk("Slack Token", SeverityMedium, "Slack bot token detected",
			`xoxb-[0-9]+-[0-9]+-[A-Za-z0-9]+`),
		mk("Generic API Key", SeverityMedium, "Generic API key or token detected",
			`(?i)(?:api_key|apikey|secret_key|access_token|auth_token)[=:][A-Za-z0-9_-]{20,}`),
		mk("Generic Password", SeverityMedium, "Generic password detected",
			`(?i)(?:password|passwd|pwd|pass)[=:][A-Za-z0-9!@#$%^&*()_+=-]{8,}`),
		mk("SSH Public Key", SeverityLow, "SSH public key detected (not sensitive)",
			`ssh-(?:rsa|dss|ed25519)\s+[A-Za-z0-9+/]+={0,3}`),
		mk("Email Address", SeverityLow, "Email address detected",
			`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`),
	}}
}

// Scan finds every secret in content and returns findings plus a sanitized
// copy with all matched values masked.
func (d *Detector) Scan(content string) *ScanResult {
	result := &ScanResult{Sanitized: content}

	for i := range d.patterns {
		p := &d.patterns[i]
		for _, loc := range p.re.FindAllStringIndex(content, -1) {
			matched := content[loc[0]:loc[1]]
			masked := Mask(matched)

			result.Findings = append(result.Findings, Finding{
				PatternName: p.Name,
				Severity:    p.Severity,
				Line:        1 + strings.Count(content[:loc[0]], "\n"),
				Position:    loc[0],
				Description: p.Description,
				MaskedValue: masked,
			})
			switch p.Severity {
			case SeverityHigh:
				result.HighCount++
			case SeverityMedium:
				result.MediumCount++
			default:
				result.LowCount++
			}
			result.Sanitized = strings.ReplaceAll(result.Sanitized, matched, masked)
		}
	}
	return result
}

// ContainsHighSeverity reports whether content has at least one high-severity
// secret, without building the full result.
func (d *Detector) ContainsHighSeverity(content string) bool {
	for i := range d.patterns {
		if d.patterns[i].Severity == SeverityHigh && d.patterns[i].re.MatchString(content) {
			return true
		}
	}
	return false
}

// Contains reports whether content has any finding at all.
func (d *Detector) Contains(content string) bool {
	for i := range d.patterns {
		if d.patterns[i].re.MatchString(content) {
			return true
		}
	}
	return false
}

// Sanitize returns content with all detected secrets masked.
func (d *Detector) Sanitize(content string) string {
	return d.Scan(content).Sanitized
}

// Mask hides the middle of a secret, keeping at most four characters visible
// at each end. Short secrets are fully masked.
func Mask(secret string) string {
	const visible = 4
	if len(secret) <= 2*visible {
		return strings.Repeat("*", len(secret))
	}
	return secret[:visible] + strings.Repeat("*", len(secret)-2*visible) + secret[len(secret)-visible:]
}
