// Package requirements extracts function/method signatures from a
// requirements document so the test designer has concrete symbols to target.
package requirements

import (
	"bufio"
	"regexp"
	"strings"
)

// signaturePatterns matches a declaration line's worth of several common
// languages. Each line is tried against the patterns in order until one
// matches.
var signaturePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^\s*def\s+\w+\s*\([^)]*\)\s*(->\s*[\w\[\], .]+)?\s*:`),              // Python
	regexp.MustCompile(`^\s*func\s+(\([^)]*\)\s*)?\w+\s*\([^)]*\)[^{]*\{?`),                 // Go
	regexp.MustCompile(`^\s*(export\s+)?(async\s+)?function\s+\w+\s*\([^)]*\)`),             // JS/TS
	regexp.MustCompile(`^\s*(public|private|protected|static|\s)*[\w<>\[\]]+\s+\w+\s*\([^)]*\)\s*\{?\s*$`), // Java/C#-ish
}

// ExtractSignatures scans doc for fenced code blocks and returns every line
// inside them that matches a recognized function/method declaration pattern,
// trimmed of surrounding whitespace, in document order. Duplicate lines are
// kept (a signature repeated in two examples is still evidence of intent).
func ExtractSignatures(doc string) []string {
	var signatures []string
	var inFence bool

	scanner := bufio.NewScanner(strings.NewReader(doc))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		trimmed := strings.TrimRight(line, " \t")
		if strings.HasPrefix(strings.TrimSpace(trimmed), "```") {
			inFence = !inFence
			continue
		}
		if !inFence {
			continue
		}
		for _, re := range signaturePatterns {
			if re.MatchString(line) {
				signatures = append(signatures, strings.TrimSpace(line))
				break
			}
		}
	}
	return signatures
}
