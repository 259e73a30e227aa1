package report

import "strings"

var textReplacer = strings.NewReplacer(
	"–", "-",
	"—", "-",
	"−", "-",
	"\r", " ",
	"\t", " ",
	"\u00a0", " ",
	"\u2009", " ",
	"\u202f", " ",
)

// NormalizeText folds typographic dashes to '-', turns CR, TAB and the
// no-break or thin spaces PDFs emit into plain spaces, collapses runs of
// spaces and trims the result. Newlines are kept.
func NormalizeText(text string) string {
	s := textReplacer.Replace(text)

	var b strings.Builder
	b.Grow(len(s))
	prevSpace := false
	for _, r := range s {
		if r == ' ' {
			if prevSpace {
				continue
			}
			prevSpace = true
		} else {
			prevSpace = false
		}
		b.WriteRune(r)
	}
	return strings.TrimSpace(b.String())
}
