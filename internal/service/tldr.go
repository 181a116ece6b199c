package service

import "strings"

const defaultTLDRMaxWords = 60

// BuildTLDR produces the short extractive summary used for first-pass dense
// matching: the leading sentences of the section, cut at maxWords. It is
// deterministic so repeated chunking of identical content yields identical
// rows.
func BuildTLDR(text string, maxWords int) string {
	if maxWords <= 0 {
		maxWords = defaultTLDRMaxWords
	}
	clean := strings.Join(strings.Fields(text), " ")
	if clean == "" {
		return ""
	}

	var out []string
	count := 0
	for _, sentence := range splitSentences(clean) {
		words := strings.Fields(sentence)
		if count > 0 && count+len(words) > maxWords {
			break
		}
		out = append(out, sentence)
		count += len(words)
		if count >= maxWords {
			break
		}
	}

	tldr := strings.TrimSpace(strings.Join(out, " "))
	words := strings.Fields(tldr)
	if len(words) > maxWords {
		tldr = strings.Join(words[:maxWords], " ")
	}
	return tldr
}

// splitSentences cuts on terminal punctuation, keeping the punctuation with
// the sentence. The Arabic question mark counts so Persian FAQ content
// summarizes the same way Latin-script content does.
func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder
	for _, r := range text {
		b.WriteRune(r)
		switch r {
		case '.', '!', '?', '؟', '۔':
			s := strings.TrimSpace(b.String())
			if s != "" {
				sentences = append(sentences, s)
			}
			b.Reset()
		}
	}
	if s := strings.TrimSpace(b.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}
