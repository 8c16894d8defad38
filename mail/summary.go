// Package mail formats end-of-session summaries and delivers them by email.
package mail

import (
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Summary section names, in the order the summary prompt asks for them.
var sectionNames = []string{
	"Overall Mood",
	"Sleep",
	"Appetite",
	"Main Stressors",
	"Protective Factors / Supports",
	"Risk Level",
}

var sectionHeadings = map[string]string{
	"Overall Mood":                  "### 😊 Overall Mood",
	"Sleep":                         "### 💤 Sleep",
	"Appetite":                      "### 🍽️ Appetite",
	"Main Stressors":                "### ⚠️ Main Stressors",
	"Protective Factors / Supports": "### 🛡️ Supports",
}

var nextSteps = []string{
	"#### Quick next steps",
	"- Try a 2-minute breathing exercise",
	"- Jot down one positive moment from today",
	"- Reach out to someone you trust if you need",
}

var (
	blankRuns  = regexp.MustCompile(`\n{3,}`)
	noInfo     = regexp.MustCompile(`(?i)^no information provided\.?$`)
	headingPfx = regexp.MustCompile(`^\s*(?:#{1,3}\s*)?(?:\d+\.\s*)?(?:\*\*)?`)
)

// FormatSummary turns the raw model summary into skimmable markdown with one
// block per known section and a short list of next steps. Sections that are
// empty or say "No information provided." are dropped. A summary with no
// recognisable sections is condensed under a single heading.
func FormatSummary(summary, risk string) string {
	summary = strings.TrimSpace(summary)
	if summary == "" {
		return ""
	}
	riskLabel := cases.Title(language.English).String(strings.ToLower(risk))
	if riskLabel == "" {
		riskLabel = "Low"
	}

	sections, found := parseSections(summary)
	if !found {
		return fmt.Sprintf("## Session Summary\n\n%s\n\n---\nRisk: **%s**", cleanSection(summary), riskLabel)
	}

	lines := []string{"## 🌿 Session Summary"}
	for _, name := range sectionNames {
		heading, ok := sectionHeadings[name]
		if !ok {
			continue
		}
		body := sections[name]
		if body == "" || noInfo.MatchString(body) {
			continue
		}
		lines = append(lines, "\n"+heading, body)
	}
	lines = append(lines, "\n### 🧭 Risk", fmt.Sprintf("Risk level: **%s**", riskLabel))
	lines = append(lines, "\n---")
	lines = append(lines, nextSteps...)
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// parseSections splits the summary at lines naming a known section, either
// alone ("## Sleep", "**Sleep**") or followed by inline content
// ("Sleep: restless").
func parseSections(summary string) (map[string]string, bool) {
	out := make(map[string]string)
	var (
		current string
		body    []string
		found   bool
	)
	flush := func() {
		if current != "" {
			out[current] = cleanSection(strings.Join(body, "\n"))
		}
	}
	for _, line := range strings.Split(summary, "\n") {
		name, rest, ok := matchHeading(line)
		if !ok {
			if current != "" {
				body = append(body, line)
			}
			continue
		}
		flush()
		found = true
		current = name
		body = body[:0]
		if rest != "" {
			body = append(body, rest)
		}
	}
	flush()
	return out, found
}

func matchHeading(line string) (name, rest string, ok bool) {
	s := headingPfx.ReplaceAllString(line, "")
	for _, n := range sectionNames {
		if len(s) < len(n) || !strings.EqualFold(s[:len(n)], n) {
			continue
		}
		// "Sleep was poor" is content; "Sleep", "**Sleep**" and "Sleep: poor" are headings.
		tail := strings.TrimSpace(strings.TrimLeft(s[len(n):], "*"))
		switch {
		case tail == "":
			return n, "", true
		case strings.HasPrefix(tail, ":"):
			tail = strings.TrimSpace(strings.TrimLeft(tail[1:], "*"))
			return n, tail, true
		}
	}
	return "", "", false
}

func cleanSection(s string) string {
	return blankRuns.ReplaceAllString(strings.TrimSpace(s), "\n\n")
}
