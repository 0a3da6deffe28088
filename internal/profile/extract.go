// Package profile extracts visitor contact facets from free text.
//
// The extraction is heuristic: a short message is assumed to be a name, and
// the message following the name is assumed to be the company. Callers must
// tolerate false positives. Known facets are never overwritten.
package profile

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"douly-backend/internal/models"
)

type Facet string

const (
	FacetNone    Facet = ""
	FacetName    Facet = "name"
	FacetCompany Facet = "company"
	FacetEmail   Facet = "email"
)

// Facets lists every facet in capture order.
var Facets = []Facet{FacetName, FacetCompany, FacetEmail}

const (
	shortNameLimit = 30
	companyLimit   = 60
	maxNameWords   = 4
)

var (
	emailRe = regexp.MustCompile(`\S+@\S+\.\S+`)

	introPhrases = []string{
		"je m'appelle",
		"je m’appelle",
		"m'appelle",
		"m’appelle",
		"appelle",
		"my name is",
		"call me",
		"moi c'est",
		"moi c’est",
	}

	// connectors end a name: "Jean Dupont et je travaille chez Acme".
	// "de" is absent since it is a French name particle.
	connectors = map[string]bool{
		"et": true, "and": true, "from": true, "chez": true, "je": true, "i": true,
		"at": true, "of": true, "mais": true, "but": true,
	}

	greetings = map[string]bool{
		"bonjour": true, "bonsoir": true, "salut": true, "hello": true, "hi": true,
		"hey": true, "merci": true, "ok": true, "oui": true, "non": true, "yes": true,
		"no": true, "coucou": true, "thanks": true, "d'accord": true,
	}
)

// Fields is the partial profile found in one message.
type Fields struct {
	FullName string
	Company  string
	Email    string
}

func (f Fields) Empty() bool {
	return f.FullName == "" && f.Company == "" && f.Email == ""
}

// Scan looks for contact facets in text given what is already known.
func Scan(text string, known models.Profile) Fields {
	text = strings.TrimSpace(text)
	if text == "" {
		return Fields{}
	}

	var f Fields
	f.Email = findEmail(text)

	switch NextFacetBefore(known) {
	case FacetName:
		f.FullName = findName(text)
	case FacetCompany:
		f.Company = findCompany(text, f.Email)
	}
	return f
}

// NextFacetBefore reports which positional facet a message is expected to
// answer: the name first, then the company once a name is known.
func NextFacetBefore(known models.Profile) Facet {
	switch {
	case known.FullName == "":
		return FacetName
	case known.Company == "":
		return FacetCompany
	}
	return FacetNone
}

func findEmail(text string) string {
	m := emailRe.FindString(text)
	return strings.TrimRight(m, ".,;:!?)>\"'")
}

func findName(text string) string {
	lower := strings.ToLower(text)
	if len(lower) != len(text) {
		lower = text
	}
	for _, phrase := range introPhrases {
		if strings.Contains(text, "?") {
			break
		}
		idx := strings.Index(lower, phrase)
		if idx < 0 {
			continue
		}
		if name := cleanName(text[idx+len(phrase):]); name != "" {
			return name
		}
	}

	if utf8.RuneCountInString(text) >= shortNameLimit {
		return ""
	}
	if strings.ContainsAny(text, "@?") || strings.IndexFunc(text, unicode.IsDigit) >= 0 {
		return ""
	}
	if greetings[strings.Trim(strings.ToLower(text), " !.,")] {
		return ""
	}
	return cleanName(text)
}

func cleanName(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, ".,;:!?\n"); i >= 0 {
		s = s[:i]
	}
	var words []string
	for _, w := range strings.Fields(s) {
		lw := strings.ToLower(w)
		if connectors[lw] || strings.HasPrefix(lw, "j'") || strings.HasPrefix(lw, "j’") {
			break
		}
		words = append(words, w)
		if len(words) == maxNameWords {
			break
		}
	}
	return strings.Join(words, " ")
}

func findCompany(text, email string) string {
	if email != "" {
		text = strings.Replace(text, email, "", 1)
	}
	text = strings.Trim(strings.TrimSpace(text), " .,;:!")
	if text == "" || strings.Contains(text, "?") {
		return ""
	}
	if utf8.RuneCountInString(text) > companyLimit {
		return ""
	}
	return text
}
