package contentscan

import (
	"fmt"
	"regexp"
	"strings"
)

// Category names of the default catalogue.
const (
	CategoryDestructiveCommand  = "destructive_command"
	CategorySQLInjection        = "sql_injection"
	CategoryPrivilegeEscalation = "privilege_escalation"
	CategoryDataExfiltration    = "data_exfiltration"
	CategoryCredentialTheft     = "credential_theft"
	CategoryPromptInjection     = "prompt_injection"
	CategoryOverrideSafety      = "override_safety"
	CategoryJailbreak           = "jailbreak"
	CategoryBlockedPhrase       = "blocked_phrase"
)

// Rule is one tagged matcher of the catalogue. Input matches when every AllOf
// pattern matches and at least one AnyOf pattern or phrase matches (an empty
// group is satisfied). A rule with no patterns and no phrases never matches.
type Rule struct {
	Category    string
	Severity    RiskLevel
	Description string
	AnyOf       []*regexp.Regexp
	AllOf       []*regexp.Regexp
	Phrases     []string
}

// Match reports whether the case-normalized input triggers the rule.
func (r Rule) Match(normalized string) bool {
	if len(r.AnyOf) == 0 && len(r.AllOf) == 0 && len(r.Phrases) == 0 {
		return false
	}

	for _, re := range r.AllOf {
		if !re.MatchString(normalized) {
			return false
		}
	}

	if len(r.AnyOf) == 0 && len(r.Phrases) == 0 {
		return true
	}
	for _, re := range r.AnyOf {
		if re.MatchString(normalized) {
			return true
		}
	}
	for _, p := range r.Phrases {
		if p != "" && strings.Contains(normalized, p) {
			return true
		}
	}
	return false
}

// RuleSpec is the declarative form of a Rule, compiled by Compile.
type RuleSpec struct {
	Category    string
	Severity    RiskLevel
	Description string
	AnyOf       []string
	AllOf       []string
	Phrases     []string
}

// Compile turns the spec into a Rule. Patterns are matched against lower-cased input.
func (s RuleSpec) Compile() (Rule, error) {
	if s.Category == "" {
		return Rule{}, fmt.Errorf("rule category is required")
	}
	if !s.Severity.Valid() {
		return Rule{}, fmt.Errorf("rule %s: invalid severity %d", s.Category, int(s.Severity))
	}

	r := Rule{
		Category:    s.Category,
		Severity:    s.Severity,
		Description: s.Description,
	}
	for _, p := range s.AnyOf {
		re, err := regexp.Compile(p)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid pattern for %s: %w", s.Category, err)
		}
		r.AnyOf = append(r.AnyOf, re)
	}
	for _, p := range s.AllOf {
		re, err := regexp.Compile(p)
		if err != nil {
			return Rule{}, fmt.Errorf("invalid pattern for %s: %w", s.Category, err)
		}
		r.AllOf = append(r.AllOf, re)
	}
	for _, p := range s.Phrases {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
			r.Phrases = append(r.Phrases, p)
		}
	}
	return r, nil
}

// DefaultRuleSpecs is the built-in adversarial pattern catalogue, in scan order.
var DefaultRuleSpecs = []RuleSpec{
	{
		Category:    CategoryDestructiveCommand,
		Severity:    RiskHigh,
		Description: "recursive or irreversible deletion command",
		AnyOf: []string{
			`\brm\s+(-\S+\s+)*-[a-z]*r`,
			`\brm\s+(-\S+\s+)*--recursive\b`,
			`\bshutdown\s+(-[a-z]+|/[a-z]\b|now\b)`,
			`\bmkfs(\.[a-z0-9]+)?\b`,
			`\bdd\s+if=\S+\s+of=/dev/`,
			`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`,
			`\bformat\s+[a-z]:`,
			`\bdel\s+/[sfq]\b`,
			`\bshred\s+-`,
		},
	},
	{
		Category:    CategorySQLInjection,
		Severity:    RiskHigh,
		Description: "destructive SQL statement or injection idiom",
		AnyOf: []string{
			`\bdrop\s+(table|database|schema)\b`,
			`\btruncate\s+table\b`,
			`\bdelete\s+from\s+[a-z_][a-z0-9_.]*\s*(;|$)`,
			`'\s*or\s+'?1'?\s*=\s*'?1`,
			`\bunion\s+(all\s+)?select\b`,
			`;\s*(drop|delete|update|insert)\s`,
		},
	},
	{
		Category:    CategoryPrivilegeEscalation,
		Severity:    RiskHigh,
		Description: "attempt to elevate privileges",
		AnyOf: []string{
			`(^|[\s;&|])sudo\s+\S`,
			`\bsu\s+(-\s+)?root\b`,
			`\bchmod\s+(-r\s+)?(777|[ug]?\+s)\b`,
			`\bchown\s+(-r\s+)?root\b`,
			`/etc/sudoers`,
			`\bsetuid\b`,
			`\brun\s+as\s+(administrator|root)\b`,
		},
	},
	{
		Category:    CategoryDataExfiltration,
		Severity:    RiskHigh,
		Description: "outbound URL combined with an instruction to ship local data",
		AllOf: []string{
			`\b(https?|ftp)://\S+`,
		},
		AnyOf: []string{
			`\bexfiltrat\w*`,
			`\b(send|upload|post|dump|leak|forward|transmit|copy)\w*\s+(\w+\s+){0,3}(data|database|db|contacts?|address\s+book|files?|documents?|records|logs?|history|emails?|messages|inbox|sms|passwords?|credentials?|keys?|tokens?|cookies|secrets?|env|environment)\b`,
		},
	},
	{
		Category:    CategoryCredentialTheft,
		Severity:    RiskHigh,
		Description: "credential harvesting request",
		AnyOf: []string{
			`\b(steal|harvest|dump|grab|extract|exfiltrat|phish)\w*\s+(\w+\s+){0,3}(passwords?|credentials?|api[\s_-]?keys?|access\s+tokens?|session\s+cookies|private\s+keys?|(client|api)\s+secrets?)\b`,
			`/etc/shadow\b`,
			`\.ssh/id_(rsa|ed25519|ecdsa)\b`,
			`\bkeylogger\b`,
		},
	},
	{
		Category:    CategoryPromptInjection,
		Severity:    RiskHigh,
		Description: "instruction to ignore or replace prior instructions",
		AnyOf: []string{
			`\bignore\s+(all\s+)?(of\s+)?(the\s+|your\s+)?(previous|prior|above|earlier|preceding)\s+(instructions|prompts?|rules|directions|messages)`,
			`\bdisregard\s+(all\s+)?(the\s+|your\s+)?(previous|prior|above|earlier)?\s*(instructions|rules|programming|guidelines)`,
			`\bforget\s+(all\s+)?(of\s+)?(your|the|previous|prior)\s+(previous\s+)?instructions`,
			`\b(new|updated)\s+system\s+prompt\s*:`,
			`\breveal\s+(your\s+|the\s+)?system\s+prompt\b`,
		},
	},
	{
		Category:    CategoryOverrideSafety,
		Severity:    RiskCritical,
		Description: "explicit request to override or bypass safety controls",
		AnyOf: []string{
			`\boverride\s+(the\s+|your\s+|all\s+)?(safety|security|guardrails?|restrictions)`,
			`\bbypass\s+(the\s+|your\s+|all\s+)?(safety|security|guardrails?|filters?|approval|restrictions)`,
			`\bdisable\s+(the\s+|your\s+|all\s+)?(safety|security|guardrails?|content\s+filters?)`,
			`\bturn\s+off\s+(the\s+|your\s+|all\s+)?(safety|guardrails?|content\s+filters?)`,
		},
	},
	{
		Category:    CategoryJailbreak,
		Severity:    RiskCritical,
		Description: "jailbreak persona or unrestricted-mode request",
		AnyOf: []string{
			`\bjailbr(e|o)ak`,
			`\bdo\s+anything\s+now\b`,
			`\bdan\s+mode\b`,
			`\bdeveloper\s+mode\s+(enabled|on|activated)\b`,
			`\bpretend\s+(that\s+)?you\s+(have|had)\s+no\s+(rules|restrictions|limits|guidelines)`,
			`\bact\s+as\s+an?\s+(unrestricted|unfiltered|uncensored)\b`,
		},
	},
}

// DefaultBlockedPhrases are literal phrases blocked unless configuration replaces them.
var DefaultBlockedPhrases = []string{
	"format /",
	"shutdown now",
	"disable security",
	"bypass approval",
}

// CompileCatalogue compiles specs in order.
func CompileCatalogue(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for _, s := range specs {
		r, err := s.Compile()
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// DefaultCatalogue returns the compiled built-in catalogue.
func DefaultCatalogue() []Rule {
	rules, err := CompileCatalogue(DefaultRuleSpecs)
	if err != nil {
		panic(fmt.Sprintf("contentscan: default catalogue does not compile: %v", err))
	}
	return rules
}

// BlockedPhraseRule builds the operator phrase category at the given severity.
func BlockedPhraseRule(phrases []string, severity RiskLevel) (Rule, error) {
	return RuleSpec{
		Category:    CategoryBlockedPhrase,
		Severity:    severity,
		Description: "operator-configured blocked phrase",
		Phrases:     phrases,
	}.Compile()
}
