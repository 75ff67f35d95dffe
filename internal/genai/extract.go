package genai

import (
	"regexp"
	"strings"
)

var (
	fencedBlock = regexp.MustCompile("(?s)```(?:[a-zA-Z]*\\n)?(.*?)```")
	sqlStart    = regexp.MustCompile(`(?im)^[ \t]*(SELECT|WITH)\b`)
)

// ExtractSQL pulls the SQL statement out of a raw model response. Models
// often wrap queries in markdown fences, sometimes with prose around them:
// the first fenced block wins, otherwise the whole trimmed body is taken.
// The statement must begin at a line starting with SELECT or WITH, so prose
// that merely contains the word "with" is rejected as malformed rather than
// handed to the validator.
func ExtractSQL(raw string) (string, error) {
	candidate := strings.TrimSpace(raw)

	if match := fencedBlock.FindStringSubmatch(candidate); match != nil {
		candidate = strings.TrimSpace(match[1])
	}

	loc := sqlStart.FindStringIndex(candidate)
	if loc == nil {
		return "", &MalformedResponseError{Snippet: snippet([]byte(raw))}
	}

	return strings.TrimSpace(candidate[loc[0]:]), nil
}
