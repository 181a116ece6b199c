package service

import (
	"strings"
)

// Section is one coherent slice of a source document, bounded by structural
// markers first and a word limit second.
type Section struct {
	Title     string
	Text      string
	WordCount int
}

// defaultMaxSectionWords keeps sections inside the window where a single
// embedding still represents them faithfully.
const defaultMaxSectionWords = 400

// SplitSections splits text into sections of at most maxWords words each.
// Structural boundaries win over hard cuts: a markdown-style heading or a
// short "Title:" line starts a new section, blank lines separate paragraphs,
// and only paragraphs longer than maxWords are cut mid-flow at a word
// boundary. Section order follows document order.
func SplitSections(text string, maxWords int) []Section {
	if maxWords <= 0 {
		maxWords = defaultMaxSectionWords
	}
	clean := strings.ReplaceAll(text, "\r\n", "\n")
	if strings.TrimSpace(clean) == "" {
		return nil
	}

	var sections []Section
	var current []string
	currentWords := 0
	currentTitle := ""

	flush := func() {
		if len(current) == 0 {
			return
		}
		body := strings.TrimSpace(strings.Join(current, "\n\n"))
		if body != "" {
			sections = append(sections, Section{
				Title:     currentTitle,
				Text:      body,
				WordCount: len(strings.Fields(body)),
			})
		}
		current = nil
		currentWords = 0
	}

	for _, block := range strings.Split(clean, "\n") {
		line := strings.TrimSpace(block)
		if line == "" {
			continue
		}

		if title, ok := headingTitle(line); ok {
			flush()
			currentTitle = title
			continue
		}

		words := len(strings.Fields(line))
		if words > maxWords {
			// A single oversized paragraph: close what we have and hard-cut.
			flush()
			for _, piece := range hardCut(line, maxWords) {
				sections = append(sections, Section{
					Title:     currentTitle,
					Text:      piece,
					WordCount: len(strings.Fields(piece)),
				})
			}
			continue
		}

		if currentWords+words > maxWords {
			flush()
		}
		current = append(current, line)
		currentWords += words
	}
	flush()

	return sections
}

// headingTitle reports whether a line is a structural heading and returns
// its title text. Markdown hashes and short colon-terminated lines count.
func headingTitle(line string) (string, bool) {
	if strings.HasPrefix(line, "#") {
		return strings.TrimSpace(strings.TrimLeft(line, "#")), true
	}
	if strings.HasSuffix(line, ":") && len(strings.Fields(line)) <= 8 {
		return strings.TrimSuffix(line, ":"), true
	}
	return "", false
}

// hardCut splits an oversized paragraph into maxWords-sized pieces,
// preferring sentence ends near the limit over mid-sentence cuts.
func hardCut(text string, maxWords int) []string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return []string{text}
	}

	var pieces []string
	start := 0
	for start < len(words) {
		end := start + maxWords
		if end >= len(words) {
			end = len(words)
		} else {
			// Back up to the closest sentence end within the last quarter.
			minCut := end - maxWords/4
			if minCut < start+1 {
				minCut = start + 1
			}
			for i := end; i > minCut; i-- {
				if endsSentence(words[i-1]) {
					end = i
					break
				}
			}
		}
		pieces = append(pieces, strings.Join(words[start:end], " "))
		start = end
	}
	return pieces
}

func endsSentence(word string) bool {
	runes := []rune(word)
	if len(runes) == 0 {
		return false
	}
	switch runes[len(runes)-1] {
	case '.', '!', '?', '؟', '۔':
		return true
	}
	return false
}
