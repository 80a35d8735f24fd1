package risk

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Document is contract text split into pages, paragraphs and sentences.
// Pages are separated by form feeds, paragraphs by blank lines.
type Document struct {
	Pages []Page
}

type Page struct {
	Number     int
	Paragraphs []Paragraph
}

type Paragraph struct {
	Number    int
	Sentences []Sentence
}

// Sentence keeps the verbatim text next to its folded form (lower case,
// diacritics removed) which is what detector patterns match against.
type Sentence struct {
	Text   string
	Folded string
}

var blankLine = regexp.MustCompile(`\n[ \t\r]*\n`)

// ParseDocument splits text into its structure. Blank text yields an empty document.
func ParseDocument(text string) *Document {
	doc := &Document{}
	if strings.TrimSpace(text) == "" {
		return doc
	}
	text = strings.ReplaceAll(text, "\r\n", "\n")
	pageNum := 0
	for _, rawPage := range strings.Split(text, "\f") {
		pageNum++
		page := Page{Number: pageNum}
		paraNum := 0
		for _, rawPara := range blankLine.Split(rawPage, -1) {
			sentences := splitSentences(rawPara)
			if len(sentences) == 0 {
				continue
			}
			paraNum++
			para := Paragraph{Number: paraNum}
			for _, s := range sentences {
				para.Sentences = append(para.Sentences, Sentence{Text: s, Folded: Fold(s)})
			}
			page.Paragraphs = append(page.Paragraphs, para)
		}
		if len(page.Paragraphs) > 0 {
			doc.Pages = append(doc.Pages, page)
		}
	}
	return doc
}

// Empty reports whether the document holds no sentences.
func (d *Document) Empty() bool { return d == nil || len(d.Pages) == 0 }

// splitSentences breaks a paragraph on terminal punctuation followed by
// whitespace, so decimals such as "1.000,00" stay intact.
func splitSentences(para string) []string {
	para = strings.Join(strings.Fields(para), " ")
	var out []string
	start := 0
	for i := 0; i < len(para); i++ {
		switch para[i] {
		case '.', '!', '?', ';':
			if i+1 == len(para) || para[i+1] == ' ' {
				if s := strings.TrimSpace(para[start : i+1]); s != "" {
					out = append(out, s)
				}
				start = i + 1
			}
		}
	}
	if s := strings.TrimSpace(para[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

// Fold lower-cases s and strips combining marks: "Rescisão" -> "rescisao".
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}
