package filter

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Load reads a keyword configuration file and builds an Engine.
//
// The format is line oriented. [Section] headers open a keyword group named
// after the section; the special [GLOBAL_FILTER] section collects global
// exclusion terms instead. Within a group, lines are plain words, +required
// terms, !excluded terms, or /regex/ patterns, optionally suffixed with
// " => Display Name" to rename the group. Blank lines and # comments are
// skipped. Lines before any header go into an implicit unnamed group.
//
// A missing file yields an empty engine, not an error.
func Load(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Engine{}, nil
		}
		return nil, fmt.Errorf("filter: read %s: %w", path, err)
	}
	return Parse(string(data)), nil
}

// Parse builds an Engine from keyword configuration text.
func Parse(content string) *Engine {
	e := &Engine{}

	var current *Group
	inGlobalFilter := false

	for _, raw := range strings.Split(content, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			name := strings.TrimSpace(line[1 : len(line)-1])
			if strings.EqualFold(name, "GLOBAL_FILTER") {
				inGlobalFilter = true
				current = nil
			} else {
				inGlobalFilter = false
				current = &Group{Name: name, DisplayName: name}
				e.Groups = append(e.Groups, current)
			}
			continue
		}

		if inGlobalFilter {
			e.GlobalFilters = append(e.GlobalFilters, line)
			continue
		}

		if current == nil {
			current = &Group{Name: "default"}
			e.Groups = append(e.Groups, current)
		}

		if before, after, ok := strings.Cut(line, " => "); ok {
			current.DisplayName = strings.TrimSpace(after)
			line = strings.TrimSpace(before)
		}

		switch {
		case strings.HasPrefix(line, "+"):
			current.Required = append(current.Required, strings.TrimPrefix(line, "+"))
		case strings.HasPrefix(line, "!"):
			term := strings.TrimPrefix(line, "!")
			current.Excluded = append(current.Excluded, term)
			e.FilterWords = append(e.FilterWords, term)
		case strings.HasPrefix(line, "/") && strings.HasSuffix(line, "/") && len(line) > 1:
			expr := line[1 : len(line)-1]
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				// Bad patterns are skipped rather than failing the load.
				continue
			}
			current.Patterns = append(current.Patterns, re)
		default:
			current.Words = append(current.Words, line)
		}
	}

	return e
}
