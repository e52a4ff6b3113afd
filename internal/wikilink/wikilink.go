// Package wikilink parses and renders the [[Title]] / [[Title|alias]]
// markers that form the directed note graph.
package wikilink

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	linkPattern = regexp.MustCompile(`\[\[([^\[\]|]+)(?:\|([^\[\]|]*))?\]\]`)
	slugStrip   = regexp.MustCompile(`[^a-z0-9]+`)
)

// Link is one parsed marker. Alias is empty for the plain [[Title]] form.
type Link struct {
	Target string
	Alias  string
}

// Extract returns every wikilink in content in order of appearance,
// deduplicated by target title (first occurrence wins).
func Extract(content string) []Link {
	matches := linkPattern.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	out := make([]Link, 0, len(matches))
	for _, m := range matches {
		target := strings.TrimSpace(m[1])
		if target == "" {
			continue
		}
		key := strings.ToLower(target)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, Link{
			Target: target,
			Alias:  strings.TrimSpace(m[2]),
		})
	}
	return out
}

// Targets returns just the target titles, in extraction order.
func Targets(content string) []string {
	links := Extract(content)
	if len(links) == 0 {
		return nil
	}
	out := make([]string, 0, len(links))
	for _, l := range links {
		out = append(out, l.Target)
	}
	return out
}

// Render writes links back to marker syntax, one per entry.
func Render(links []Link) string {
	if len(links) == 0 {
		return ""
	}
	var b strings.Builder
	for i, l := range links {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString("[[")
		b.WriteString(l.Target)
		if l.Alias != "" {
			b.WriteString("|")
			b.WriteString(l.Alias)
		}
		b.WriteString("]]")
	}
	return b.String()
}

// Slugify lowercases the title and collapses every non-alphanumeric run to
// a single hyphen. Empty results fall back to "untitled".
func Slugify(title string) string {
	s := strings.ToLower(strings.TrimSpace(title))
	s = slugStrip.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-")
	if s == "" {
		return "untitled"
	}
	return s
}

// NextSlug resolves a collision by appending the lowest free numeric suffix:
// base, base-2, base-3, ... taken reports whether a candidate is in use.
func NextSlug(base string, taken func(slug string) (bool, error)) (string, error) {
	inUse, err := taken(base)
	if err != nil {
		return "", err
	}
	if !inUse {
		return base, nil
	}
	for n := 2; ; n++ {
		candidate := base + "-" + strconv.Itoa(n)
		inUse, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !inUse {
			return candidate, nil
		}
	}
}
