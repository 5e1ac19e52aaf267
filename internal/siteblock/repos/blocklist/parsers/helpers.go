package parsers

import (
	"strings"
	"unicode"

	"github.com/haukened/siteblock/internal/siteblock/common/utils"
	"github.com/haukened/siteblock/internal/siteblock/domain"
)

// isValidHostname checks whether name looks like a blockable hostname:
//   - The total length must not exceed 253 characters.
//   - At least two labels (e.g. example.com).
//   - Each label must be between 1 and 63 characters long.
//   - Labels hold only letters, digits, '-' and '_'.
//   - The first label must start with a letter or number.
func isValidHostname(name string) bool {
	if len(name) == 0 || len(name) > 253 {
		return false
	}
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return false
	}
	for _, label := range labels {
		if len(label) > 63 || len(label) == 0 {
			return false
		}
		for _, r := range label {
			if !isAlphaNumeric(r) && r != '-' && r != '_' {
				return false
			}
		}
	}
	return isAlphaNumeric([]rune(labels[0])[0])
}

// normalizeHostname trims whitespace, removes any leading "*." or "."
// marker and canonicalizes the rest. Hostname entries already cover every
// subdomain, so wildcard markers carry no extra meaning.
func normalizeHostname(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "*.")
	name = strings.TrimPrefix(name, ".")
	return utils.CanonicalHostname(name)
}

// identifierFromToken turns one list token into a block list identifier.
// URLs are kept verbatim so prefix matching sees exactly what was listed.
func identifierFromToken(tok string) (string, bool) {
	tok = strings.TrimSpace(tok)
	if domain.KindOf(tok) == domain.IdentifierURL {
		if !utils.IsHTTPURL(tok) {
			return "", false
		}
		return tok, true
	}
	name := normalizeHostname(tok)
	if !isValidHostname(name) {
		return "", false
	}
	return name, true
}

func isAlphaNumeric(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

func stripLineBOM(line string) string {
	return strings.TrimPrefix(line, "\uFEFF")
}

// classifyLine reports whether line is blank or a whole-line comment.
func classifyLine(line string) (isEmpty, isComment bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return true, false
	}
	return false, strings.HasPrefix(trimmed, "#")
}

func stripInlineComment(line string) string {
	if idx := strings.IndexByte(line, '#'); idx >= 0 {
		return line[:idx]
	}
	return line
}
