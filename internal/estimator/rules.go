package estimator

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Confidence grades how trustworthy an estimate is.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

func (c Confidence) downgrade() Confidence {
	switch c {
	case ConfidenceHigh:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Rule maps a pattern to a source and medium. Rules are evaluated in order and the first match wins,
// so specific patterns must precede general ones.
type Rule struct {
	Name       string     `koanf:"name"`
	Pattern    string     `koanf:"pattern"`
	Source     string     `koanf:"source"`
	Medium     string     `koanf:"medium"`
	Confidence Confidence `koanf:"confidence"`

	re *regexp.Regexp
}

// RuleSet holds the compiled referrer and user agent tables.
type RuleSet struct {
	Referrer  []Rule
	UserAgent []Rule
}

// Referrer rules match "host/path" with the scheme and a leading "www." removed.
var defaultReferrerRules = []Rule{
	{Name: "gmail", Pattern: `^(mail\.google\.com|gmail\.com)(/|$)`, Source: "gmail", Medium: "email", Confidence: ConfidenceHigh},
	{Name: "outlook", Pattern: `^outlook\.((live|office365|office)\.)?com(/|$)`, Source: "outlook", Medium: "email", Confidence: ConfidenceHigh},
	{Name: "yahoo_mail", Pattern: `^(mail\.yahoo\.com(/|$)|yahoo\.com/mail)`, Source: "yahoo", Medium: "email", Confidence: ConfidenceHigh},
	{Name: "naver_mail", Pattern: `^mail\.naver\.com(/|$)`, Source: "naver", Medium: "email", Confidence: ConfidenceHigh},
	{Name: "daum_mail", Pattern: `^mail\.daum\.net(/|$)`, Source: "daum", Medium: "email", Confidence: ConfidenceHigh},
	{Name: "linkedin", Pattern: `^([a-z0-9-]+\.)*(linkedin\.com|lnkd\.in)(/|$)`, Source: "linkedin", Medium: "social", Confidence: ConfidenceHigh},
	{Name: "facebook", Pattern: `^([a-z0-9-]+\.)*(facebook\.com|fb\.com)(/|$)`, Source: "facebook", Medium: "social", Confidence: ConfidenceHigh},
	{Name: "twitter", Pattern: `^([a-z0-9-]+\.)*(twitter\.com|t\.co|x\.com)(/|$)`, Source: "twitter", Medium: "social", Confidence: ConfidenceHigh},
	{Name: "instagram", Pattern: `^([a-z0-9-]+\.)*instagram\.com(/|$)`, Source: "instagram", Medium: "social", Confidence: ConfidenceHigh},
	{Name: "google_search", Pattern: `^([a-z0-9-]+\.)*google\.(com|co\.kr)/search`, Source: "google", Medium: "organic", Confidence: ConfidenceHigh},
	{Name: "google", Pattern: `^([a-z0-9-]+\.)*google\.(com|co\.kr)(/|$)`, Source: "google", Medium: "cpc", Confidence: ConfidenceMedium},
}

var defaultUserAgentRules = []Rule{
	{Name: "gmail_proxy", Pattern: `GmailImageProxy|GoogleImageProxy`, Source: "gmail", Medium: "email", Confidence: ConfidenceHigh},
	{Name: "outlook_app", Pattern: `Outlook-iOS|Outlook-Android|Microsoft Office`, Source: "outlook", Medium: "email", Confidence: ConfidenceHigh},
	{Name: "linkedin_app", Pattern: `LinkedInApp|LinkedInBot`, Source: "linkedin", Medium: "social", Confidence: ConfidenceHigh},
	{Name: "facebook_app", Pattern: `FBAN|FBAV|Facebook`, Source: "facebook", Medium: "social", Confidence: ConfidenceHigh},
	{Name: "twitter_app", Pattern: `Twitter|Tweetbot`, Source: "twitter", Medium: "social", Confidence: ConfidenceHigh},
	{Name: "google_bot", Pattern: `Googlebot|AdsBot`, Source: "google", Medium: "organic", Confidence: ConfidenceMedium},
}

// DefaultRules returns the built-in rule tables.
func DefaultRules() *RuleSet {
	rs, err := compile(defaultReferrerRules, defaultUserAgentRules)
	if err != nil {
		panic(err)
	}

	return rs
}

type rulesFile struct {
	Referrer  []Rule `koanf:"referrer"`
	UserAgent []Rule `koanf:"user_agent"`
}

// LoadRules reads rule tables from a YAML file. A table present in the file replaces the built-in
// one wholesale and keeps the file's order; an absent table keeps the default.
func LoadRules(path string) (*RuleSet, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load rules %s: %w", path, err)
	}

	var f rulesFile
	if err := k.Unmarshal("", &f); err != nil {
		return nil, fmt.Errorf("decode rules %s: %w", path, err)
	}

	referrer, userAgent := defaultReferrerRules, defaultUserAgentRules

	if k.Exists("referrer") {
		referrer = f.Referrer
	}

	if k.Exists("user_agent") {
		userAgent = f.UserAgent
	}

	return compile(referrer, userAgent)
}

func compile(referrer, userAgent []Rule) (*RuleSet, error) {
	rs := &RuleSet{}

	for _, table := range []struct {
		in  []Rule
		out *[]Rule
	}{{referrer, &rs.Referrer}, {userAgent, &rs.UserAgent}} {
		for _, r := range table.in {
			switch r.Confidence {
			case ConfidenceHigh, ConfidenceMedium, ConfidenceLow:
			default:
				return nil, fmt.Errorf("rule %q: unknown confidence %q", r.Name, r.Confidence)
			}

			re, err := regexp.Compile("(?i)" + r.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %q: %w", r.Name, err)
			}

			r.re = re
			*table.out = append(*table.out, r)
		}
	}

	return rs, nil
}

// MatchReferrer classifies a referrer URL. Empty referrers never match.
func (rs *RuleSet) MatchReferrer(referrer string) (Rule, bool) {
	key := referrerKey(referrer)
	if key == "" {
		return Rule{}, false
	}

	return first(rs.Referrer, key)
}

// MatchUserAgent classifies a user agent string.
func (rs *RuleSet) MatchUserAgent(userAgent string) (Rule, bool) {
	if strings.TrimSpace(userAgent) == "" {
		return Rule{}, false
	}

	return first(rs.UserAgent, userAgent)
}

func first(rules []Rule, s string) (Rule, bool) {
	for _, r := range rules {
		if r.re.MatchString(s) {
			return r, true
		}
	}

	return Rule{}, false
}

// referrerKey reduces a referrer to lower-case "host/path".
func referrerKey(referrer string) string {
	referrer = strings.TrimSpace(referrer)
	if referrer == "" {
		return ""
	}

	if !strings.Contains(referrer, "://") {
		referrer = "https://" + referrer
	}

	u, err := url.Parse(referrer)
	if err != nil || u.Host == "" {
		return ""
	}

	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")

	return host + u.EscapedPath()
}

// sourceOf is the estimate a rule yields.
func sourceOf(r Rule, reason string, confidence Confidence) Estimate {
	return Estimate{Source: r.Source, Medium: r.Medium, Confidence: confidence, Reason: reason + ":" + r.Name}
}
