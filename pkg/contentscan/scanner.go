// Package contentscan classifies the free-text payload of a tool invocation
// against a declarative catalogue of adversarial and destructive patterns.
//
// Invariants:
//   - Pattern selection never depends on the plugin id.
//   - RiskLevel is the maximum severity among findings, or RiskSafe.
//   - Allowed is false exactly when RiskLevel is RiskCritical; High findings are
//     reported for the caller's consent layer but do not deny on their own.
package contentscan

import (
	"strings"
	"unicode"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Scanner runs payloads against an ordered catalogue. It holds no mutable state
// after construction and is safe for concurrent use.
type Scanner struct {
	rules []Rule
}

type scannerConfig struct {
	rules          []Rule
	phrases        []string
	phraseSeverity RiskLevel
}

// Option configures a Scanner.
type Option func(*scannerConfig)

// WithRules replaces the built-in catalogue.
func WithRules(rules []Rule) Option {
	return func(c *scannerConfig) {
		c.rules = append([]Rule(nil), rules...)
	}
}

// WithExtraRules appends rules after the built-in catalogue.
func WithExtraRules(rules ...Rule) Option {
	return func(c *scannerConfig) {
		c.rules = append(c.rules, rules...)
	}
}

// WithBlockedPhrases replaces the literal blocked phrases and their severity.
// An empty list disables the blocked_phrase category.
func WithBlockedPhrases(phrases []string, severity RiskLevel) Option {
	return func(c *scannerConfig) {
		c.phrases = append([]string(nil), phrases...)
		c.phraseSeverity = severity
	}
}

// New creates a scanner over DefaultCatalogue plus DefaultBlockedPhrases at
// RiskHigh unless opts say otherwise.
func New(opts ...Option) *Scanner {
	cfg := scannerConfig{
		rules:          DefaultCatalogue(),
		phrases:        DefaultBlockedPhrases,
		phraseSeverity: RiskHigh,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	rules := cfg.rules
	if len(cfg.phrases) > 0 {
		if r, err := BlockedPhraseRule(cfg.phrases, cfg.phraseSeverity); err == nil {
			rules = append(rules, r)
		}
	}

	return &Scanner{rules: rules}
}

// Categories lists the catalogue categories in scan order.
func (s *Scanner) Categories() []string {
	out := make([]string, 0, len(s.rules))
	for _, r := range s.rules {
		out = append(out, r.Category)
	}
	return out
}

// Scan classifies rawInput. pluginID is carried into the result for audit
// correlation only.
func (s *Scanner) Scan(pluginID, rawInput string) Result {
	result := Result{
		PluginID:  pluginID,
		RiskLevel: RiskSafe,
		Findings:  []Finding{},
		Allowed:   true,
	}

	normalized := normalize(rawInput)
	if normalized == "" {
		return result
	}

	for _, rule := range s.rules {
		if !rule.Match(normalized) {
			continue
		}
		result.Findings = append(result.Findings, Finding{
			Category:    rule.Category,
			Description: rule.Description,
			Severity:    rule.Severity,
		})
		if rule.Severity > result.RiskLevel {
			result.RiskLevel = rule.Severity
		}
	}

	result.Allowed = result.RiskLevel != RiskCritical

	if len(result.Findings) > 0 {
		evt := log.Debug()
		if !result.Allowed {
			evt = log.Warn()
		}
		evt.Str("plugin_id", pluginID).
			Str("risk_level", result.RiskLevel.String()).
			Strs("categories", result.Categories()).
			Msg("Content scan findings")
	}

	return result
}

// normalize drops invisible format runes (zero-width spaces, joiners, soft
// hyphens), folds compatibility forms such as full-width letters, lower-cases
// the input and collapses whitespace runs.
func normalize(s string) string {
	t := transform.Chain(runes.Remove(runes.In(unicode.Cf)), norm.NFKC)
	if folded, _, err := transform.String(t, s); err == nil {
		s = folded
	}
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
