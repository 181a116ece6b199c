package service

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitSectionsEmpty(t *testing.T) {
	assert.Nil(t, SplitSections("", 400))
	assert.Nil(t, SplitSections("   \n\n  \t ", 400))
}

func TestSplitSectionsSingleParagraph(t *testing.T) {
	sections := SplitSections("We ship worldwide within a week.", 400)

	require.Len(t, sections, 1)
	assert.Equal(t, "We ship worldwide within a week.", sections[0].Text)
	assert.Equal(t, 6, sections[0].WordCount)
	assert.Empty(t, sections[0].Title)
}

func TestSplitSectionsHeadings(t *testing.T) {
	text := "# Shipping\n\nWe ship worldwide.\n\n# Returns\n\nReturns are free within thirty days."

	sections := SplitSections(text, 400)

	require.Len(t, sections, 2)
	assert.Equal(t, "Shipping", sections[0].Title)
	assert.Equal(t, "We ship worldwide.", sections[0].Text)
	assert.Equal(t, "Returns", sections[1].Title)
	assert.Equal(t, "Returns are free within thirty days.", sections[1].Text)
}

func TestSplitSectionsColonHeading(t *testing.T) {
	text := "Opening hours:\nMonday to Friday, nine to five."

	sections := SplitSections(text, 400)

	require.Len(t, sections, 1)
	assert.Equal(t, "Opening hours", sections[0].Title)
}

func TestSplitSectionsLongColonLineIsNotHeading(t *testing.T) {
	line := "this long sentence happens to end with a colon but has too many words:"
	sections := SplitSections(line, 400)

	require.Len(t, sections, 1)
	assert.Empty(t, sections[0].Title)
	assert.Equal(t, line, sections[0].Text)
}

func TestSplitSectionsWordCap(t *testing.T) {
	// Three 10-word paragraphs with a 20-word cap: the third starts a new
	// section instead of overflowing the first.
	para := strings.Repeat("word ", 9) + "end."
	text := para + "\n\n" + para + "\n\n" + para

	sections := SplitSections(text, 20)

	require.Len(t, sections, 2)
	assert.Equal(t, 20, sections[0].WordCount)
	assert.Equal(t, 10, sections[1].WordCount)
}

func TestSplitSectionsHardCutOversizedParagraph(t *testing.T) {
	// One paragraph of 50 words with sentence ends every 10 words.
	var b strings.Builder
	for s := 0; s < 5; s++ {
		for w := 0; w < 9; w++ {
			b.WriteString("word ")
		}
		b.WriteString("stop. ")
	}

	sections := SplitSections(b.String(), 12)

	require.Greater(t, len(sections), 1)
	total := 0
	for _, s := range sections {
		assert.LessOrEqual(t, s.WordCount, 12)
		total += s.WordCount
	}
	assert.Equal(t, 50, total)
	// Cuts land on sentence boundaries where one is close enough.
	assert.True(t, strings.HasSuffix(sections[0].Text, "stop."))
}

func TestSplitSectionsPersianSentences(t *testing.T) {
	text := "ساعت کاری:\nفروشگاه از شنبه تا چهارشنبه باز است؟ بله."

	sections := SplitSections(text, 400)

	require.Len(t, sections, 1)
	assert.Equal(t, "ساعت کاری", sections[0].Title)
	assert.Contains(t, sections[0].Text, "؟")
}

func TestSplitSectionsDeterministic(t *testing.T) {
	text := "# A\n\nfirst part.\n\n# B\n\nsecond part."
	a := SplitSections(text, 100)
	b := SplitSections(text, 100)
	assert.Equal(t, a, b)
}

func TestBuildTLDREmpty(t *testing.T) {
	assert.Empty(t, BuildTLDR("", 60))
	assert.Empty(t, BuildTLDR("   ", 60))
}

func TestBuildTLDRShortTextUnchanged(t *testing.T) {
	text := "We are open every weekday."
	assert.Equal(t, text, BuildTLDR(text, 60))
}

func TestBuildTLDRStopsAtSentenceBoundary(t *testing.T) {
	text := "First sentence here now. Second sentence follows along fine. Third one is never included at all."

	// The second sentence would push the count to 9 words, so a cap of 8
	// keeps only the first.
	assert.Equal(t, "First sentence here now.", BuildTLDR(text, 8))

	// At 9 the second sentence fits exactly; the third never does.
	assert.Equal(t, "First sentence here now. Second sentence follows along fine.", BuildTLDR(text, 9))
}

func TestBuildTLDRHardCapsLongFirstSentence(t *testing.T) {
	text := strings.Repeat("word ", 30) + "end."

	tldr := BuildTLDR(text, 10)

	assert.Len(t, strings.Fields(tldr), 10)
}

func TestBuildTLDRNormalizesWhitespace(t *testing.T) {
	tldr := BuildTLDR("spread   over\n\nlines.", 60)
	assert.Equal(t, "spread over lines.", tldr)
}

func TestBuildTLDRDeterministic(t *testing.T) {
	text := "Alpha beta gamma. Delta epsilon zeta. Eta theta iota."
	assert.Equal(t, BuildTLDR(text, 6), BuildTLDR(text, 6))
}
