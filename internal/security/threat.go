package security

import (
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/BradenHooton/sentinel/internal/models"
)

// Threat signal weights
const (
	scoreMaliciousAgent   = 40
	scoreBotAgent         = 10
	scoreEmptyAgent       = 20
	scoreMissingAccept    = 10
	scoreMissingLanguage  = 5
	scoreMissingEncoding  = 5
	scoreURLPattern       = 25
	scoreHeaderPattern    = 20
	scoreLongQuery        = 15
	scoreUnusualMethod    = 20
	scoreSuspiciousExt    = 15
	scoreEncodedBypass    = 25
	defaultMaxQueryLength = 2048
)

// ThreatConfig holds the level thresholds. Scores below LowThreshold are NONE.
type ThreatConfig struct {
	LowThreshold    int
	MediumThreshold int
	HighThreshold   int
	MaxQueryLength  int
}

// DefaultThreatConfig returns the 30/60/80 thresholds
func DefaultThreatConfig() ThreatConfig {
	return ThreatConfig{
		LowThreshold:    30,
		MediumThreshold: 60,
		HighThreshold:   80,
		MaxQueryLength:  defaultMaxQueryLength,
	}
}

// ThreatAssessment is the scored result for one request
type ThreatAssessment struct {
	Score   int
	Level   models.ThreatLevel
	Signals []string
	Blocked bool
}

var maliciousAgents = []string{
	"sqlmap", "nikto", "nmap", "masscan", "acunetix", "nessus", "openvas", "dirbuster", "gobuster",
	"wpscan", "hydra", "burpsuite", "zgrab", "nuclei", "metasploit", "havij", "w3af", "fimap",
}

var botAgents = []string{
	"bot", "crawler", "spider", "scraper", "curl/", "wget/", "python-requests", "python-urllib",
	"go-http-client", "java/", "libwww-perl", "httpclient", "okhttp",
}

type namedPattern struct {
	name    string
	pattern *regexp.Regexp
}

var urlPatterns = []namedPattern{
	{"url_traversal", regexp.MustCompile(`\.\.[/\\]`)},
	{"url_script", regexp.MustCompile(`(?i)<\s*script|javascript:`)},
	{"url_sql", regexp.MustCompile(`(?i)union(\s|\+|/\*.*?\*/)+select|'\s*or\s*'?1'?\s*=\s*'?1`)},
	{"url_system_file", regexp.MustCompile(`(?i)/etc/(passwd|shadow|hosts)|boot\.ini|win\.ini`)},
	{"url_shell", regexp.MustCompile(`(?i)(cmd|powershell)\.exe|/bin/(ba)?sh`)},
	{"url_exposed_repo", regexp.MustCompile(`(?i)/\.(git|svn|hg|env)(/|$)`)},
}

var headerPatterns = []namedPattern{
	{"header_script", regexp.MustCompile(`(?i)<\s*script|javascript:`)},
	{"header_sql", regexp.MustCompile(`(?i)union\s+select|'\s*or\s*'1'\s*=\s*'1|;\s*drop\s+table`)},
	{"header_jndi", regexp.MustCompile(`(?i)\$\{\s*jndi\s*:`)},
	{"header_traversal", regexp.MustCompile(`\.\.[/\\]`)},
	{"header_shellshock", regexp.MustCompile(`\(\s*\)\s*\{`)},
}

var skippedThreatHeaders = map[string]struct{}{
	"Authorization": {},
	"Cookie":        {},
}

var standardMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
}

var suspiciousExtensions = map[string]struct{}{
	".php": {}, ".asp": {}, ".aspx": {}, ".jsp": {}, ".cgi": {}, ".env": {}, ".bak": {},
	".sql": {}, ".ini": {}, ".config": {}, ".log": {}, ".sh": {}, ".exe": {}, ".old": {},
}

var encodedBypass = regexp.MustCompile(`(?i)%25[0-9a-f]{2}|%c0%ae|%c1%9c|%2e%2e|%00|%u002e|\.\.%2f|%2f\.\.`)

// ThreatDetector scores requests with independent additive heuristics
type ThreatDetector struct {
	cfg ThreatConfig
}

// NewThreatDetector creates a new ThreatDetector
func NewThreatDetector(cfg ThreatConfig) *ThreatDetector {
	if cfg.MaxQueryLength <= 0 {
		cfg.MaxQueryLength = defaultMaxQueryLength
	}
	return &ThreatDetector{cfg: cfg}
}

// Level buckets a score
func (d *ThreatDetector) Level(score int) models.ThreatLevel {
	switch {
	case score >= d.cfg.HighThreshold:
		return models.ThreatHigh
	case score >= d.cfg.MediumThreshold:
		return models.ThreatMedium
	case score >= d.cfg.LowThreshold:
		return models.ThreatLow
	default:
		return models.ThreatNone
	}
}

// Assess scores a request. Only HIGH is blocked.
func (d *ThreatDetector) Assess(r *http.Request) ThreatAssessment {
	var a ThreatAssessment
	signal := func(name string, points int) {
		a.Score += points
		a.Signals = append(a.Signals, name)
	}

	d.scoreUserAgent(r.UserAgent(), signal)

	if r.Header.Get("Accept") == "" {
		signal("missing_accept", scoreMissingAccept)
	}
	if r.Header.Get("Accept-Language") == "" {
		signal("missing_accept_language", scoreMissingLanguage)
	}
	if r.Header.Get("Accept-Encoding") == "" {
		signal("missing_accept_encoding", scoreMissingEncoding)
	}

	rawURL := r.URL.RequestURI()
	decoded, err := url.QueryUnescape(rawURL)
	if err != nil {
		decoded = rawURL
	}
	for _, p := range urlPatterns {
		if p.pattern.MatchString(decoded) || p.pattern.MatchString(rawURL) {
			signal(p.name, scoreURLPattern)
		}
	}

	d.scoreHeaders(r.Header, signal)

	if len(r.URL.RawQuery) > d.cfg.MaxQueryLength {
		signal("long_query", scoreLongQuery)
	}
	if _, ok := standardMethods[r.Method]; !ok {
		signal("unusual_method", scoreUnusualMethod)
	}
	if _, ok := suspiciousExtensions[strings.ToLower(path.Ext(r.URL.Path))]; ok {
		signal("suspicious_extension", scoreSuspiciousExt)
	}
	if encodedBypass.MatchString(r.URL.RawPath) || encodedBypass.MatchString(r.URL.RawQuery) || encodedBypass.MatchString(r.RequestURI) {
		signal("encoded_bypass", scoreEncodedBypass)
	}

	a.Level = d.Level(a.Score)
	a.Blocked = a.Level == models.ThreatHigh
	return a
}

func (d *ThreatDetector) scoreUserAgent(ua string, signal func(string, int)) {
	if strings.TrimSpace(ua) == "" {
		signal("empty_user_agent", scoreEmptyAgent)
		return
	}

	lower := strings.ToLower(ua)
	for _, tool := range maliciousAgents {
		if strings.Contains(lower, tool) {
			signal("malicious_user_agent", scoreMaliciousAgent)
			return
		}
	}
	for _, bot := range botAgents {
		if strings.Contains(lower, bot) {
			signal("bot_user_agent", scoreBotAgent)
			return
		}
	}
}

// scoreHeaders counts each header pattern family once
func (d *ThreatDetector) scoreHeaders(h http.Header, signal func(string, int)) {
	for _, p := range headerPatterns {
		for name, values := range h {
			if _, skip := skippedThreatHeaders[name]; skip {
				continue
			}
			if matchAnyValue(p.pattern, values) {
				signal(p.name, scoreHeaderPattern)
				break
			}
		}
	}
}

func matchAnyValue(re *regexp.Regexp, values []string) bool {
	for _, v := range values {
		if re.MatchString(v) {
			return true
		}
	}
	return false
}
