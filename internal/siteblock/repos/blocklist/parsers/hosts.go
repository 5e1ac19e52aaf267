package parsers

import (
	"bufio"
	"io"
	"strings"

	logpkg "github.com/haukened/siteblock/internal/siteblock/common/log"
	"github.com/haukened/siteblock/internal/siteblock/common/utils"
)

// ParseHostsFile parses /etc/hosts-style files and returns hostname identifiers.
//
// Rules:
// - Ignore the IP field; extract one or more hostnames following it
// - Skip comments (whole-line or inline after '#') and blank lines
// - Skip invalid tokens (anything containing '*', or names starting with '.')
// - Normalize via CanonicalHostname; single-label names such as localhost are skipped
// - De-duplicate, preserving first-seen order
func ParseHostsFile(r io.Reader, source string, logger logpkg.Logger) ([]string, error) {
	scanner := bufio.NewScanner(r)

	seen := make(map[string]struct{})
	out := make([]string, 0, 256)

	logger.Debug(map[string]any{"source": source}, "parse_hosts_start")

	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := stripLineBOM(scanner.Text())

		if isEmpty, isComment := classifyLine(line); isEmpty || isComment {
			continue
		}
		line = stripInlineComment(line)

		fields := strings.Fields(line)
		if len(fields) < 2 {
			logger.Debug(map[string]any{"line": lineNum}, "hosts_no_hostnames")
			continue
		}

		for _, raw := range fields[1:] {
			if strings.HasPrefix(raw, ".") || strings.Contains(raw, "*") {
				logger.Debug(map[string]any{"line": lineNum, "raw": raw}, "hosts_skip_invalid_token")
				continue
			}
			name := utils.CanonicalHostname(raw)
			if !isValidHostname(name) {
				logger.Debug(map[string]any{"line": lineNum, "name": name}, "hosts_skip_invalid_hostname")
				continue
			}
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}

	if err := scanner.Err(); err != nil {
		logger.Debug(map[string]any{"source": source, "error": err.Error()}, "parse_hosts_scan_error")
		return nil, err
	}

	logger.Debug(map[string]any{"source": source, "count": len(out)}, "parse_hosts_done")
	return out, nil
}
