package parsers

import (
	"bufio"
	"io"
	"strings"

	logpkg "github.com/haukened/siteblock/internal/siteblock/common/log"
)

// ParsePlainList parses a newline-delimited list of hostnames and URLs into
// block list identifiers.
//
// Behavior:
// - Supports comments starting with '#' (inline or whole-line)
// - Lines starting with "http" are URL identifiers, kept verbatim; they must
//   parse as absolute http(s) URLs
// - Everything else is a hostname: canonicalized, "*." and "." markers dropped
// - De-duplicates while preserving first-seen order
func ParsePlainList(r io.Reader, source string, logger logpkg.Logger) ([]string, error) {
	scanner := bufio.NewScanner(r)

	seen := make(map[string]struct{})
	out := make([]string, 0, 64)
	logger.Debug(map[string]any{"source": source}, "parse_plain_list_start")
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripLineBOM(scanner.Text())

		if isEmpty, isComment := classifyLine(line); isEmpty || isComment {
			continue
		}

		// '#' is legal inside a URL fragment, so only hostname lines lose inline comments
		s := strings.TrimSpace(line)
		if !strings.HasPrefix(s, "http") {
			s = strings.TrimSpace(stripInlineComment(s))
		} else if i := strings.Index(s, " #"); i >= 0 {
			s = strings.TrimSpace(s[:i])
		}

		id, ok := identifierFromToken(s)
		if !ok {
			logger.Debug(map[string]any{"line": lineNum, "raw": s}, "skip_invalid_identifier")
			continue
		}
		if _, dup := seen[id]; dup {
			logger.Debug(map[string]any{"line": lineNum, "identifier": id}, "skip_duplicate")
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
		logger.Debug(map[string]any{"line": lineNum, "identifier": id}, "emit_identifier")
	}

	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "error": err.Error()}, "parse_plain_list_scan_error")
		return nil, err
	}
	logger.Debug(map[string]any{"source": source, "count": len(out)}, "parse_plain_list_done")
	return out, nil
}
