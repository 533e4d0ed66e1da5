package security

import "regexp"

// Pattern families matched against request input
const (
	CategoryXSS              = "xss"
	CategorySQLInjection     = "sql_injection"
	CategoryPathTraversal    = "path_traversal"
	CategoryCommandInjection = "command_injection"
)

var xssPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<script[^>]*>.*?</script\s*>`),
	regexp.MustCompile(`(?i)<\s*/?\s*(script|iframe|frame|object|embed|applet|meta|link|style|base|form|svg)\b[^>]*>?`),
	regexp.MustCompile(`(?i)\bon[a-z]+\s*=\s*("[^"]*"|'[^']*'|[^\s>]+)`),
	regexp.MustCompile(`(?i)(javascript|vbscript|livescript)\s*:`),
	regexp.MustCompile(`(?i)data\s*:\s*text/html`),
	regexp.MustCompile(`(?i)expression\s*\(`),
}

var sqlInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`),
	regexp.MustCompile(`(?i)['"]\s*(or|and)\s+['"]?\w+['"]?\s*=\s*['"]?\w+`),
	regexp.MustCompile(`(?i);\s*(drop|delete|truncate|alter|insert|update|create)\s+`),
	regexp.MustCompile(`(?i)\b(drop|truncate)\s+(table|database)\b`),
	regexp.MustCompile(`(?i)['"]\s*;?\s*--`),
	regexp.MustCompile(`(?i)\b(sleep|benchmark|pg_sleep)\s*\(\s*\d`),
	regexp.MustCompile(`(?i)\bwaitfor\s+delay\b`),
	regexp.MustCompile(`(?i)\bexec(\s+|\s*\()(xp_|sp_)\w+`),
}

var pathTraversalPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\.\.[/\\]`),
	regexp.MustCompile(`(?i)%2e%2e(%2f|%5c|/|\\)`),
	regexp.MustCompile(`(?i)\.\.(%2f|%5c)`),
}

const shellCommands = `(rm|cat|ls|wget|curl|nc|ncat|bash|sh|zsh|python|perl|ruby|php|chmod|chown|kill|whoami|uname|id)`

// A separator or backtick alone is ordinary prose; each pattern needs a
// command plus a shell-shaped argument or terminator.
var commandInjectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(;|&&?|\|\|?)\s*` + shellCommands + `\s+(-|/|~|\.{1,2}/|\$|https?://)`),
	regexp.MustCompile(`(?i)(;|&&?|\|\|?)\s*` + shellCommands + `\s*($|[;&|#>])`),
	regexp.MustCompile("(?i)`\\s*" + shellCommands + "\\b[^`]*`"),
	regexp.MustCompile(`\$\([^)]*\)`),
	regexp.MustCompile(`(?i)\$\{(ifs|jndi:)`),
}

func matchesAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

func stripAll(patterns []*regexp.Regexp, s string) string {
	for _, p := range patterns {
		s = p.ReplaceAllString(s, "")
	}
	return s
}
