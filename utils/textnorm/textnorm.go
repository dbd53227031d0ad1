package textnorm

import (
	"strings"
	"unicode"

	"github.com/mozillazg/go-unidecode"
	"golang.org/x/text/language"
)

// Normalize romanizes a string to lowercase ASCII with single spaces. It is
// used both when building the stored search text of a title and when cleaning
// an incoming query, so the two sides always compare in the same alphabet.
func Normalize(s string) string {
	s = strings.ReplaceAll(s, "&", " and ")
	romanized := strings.TrimSpace(unidecode.Unidecode(s))

	var b strings.Builder
	b.Grow(len(romanized))
	for _, r := range strings.ToLower(romanized) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else if unicode.IsSpace(r) || r == '.' || r == '-' || r == '_' || r == '\'' {
			b.WriteRune(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// SearchText joins the searchable fields of a title into one normalized blob.
// Substring search runs against this, never against the raw fields.
func SearchText(parts ...string) string {
	fields := make([]string, 0, len(parts))
	for _, p := range parts {
		if n := Normalize(p); n != "" {
			fields = append(fields, n)
		}
	}
	return strings.Join(fields, " ")
}

// languageAliases maps display names that BCP-47 parsing cannot resolve.
// Catalog metadata arrives as editor-entered names ("Hindi", "Tamil"), not tags.
var languageAliases = map[string]string{
	"hindi":      "hi",
	"english":    "en",
	"tamil":      "ta",
	"telugu":     "te",
	"malayalam":  "ml",
	"kannada":    "kn",
	"bengali":    "bn",
	"marathi":    "mr",
	"gujarati":   "gu",
	"punjabi":    "pa",
	"urdu":       "ur",
	"spanish":    "es",
	"french":     "fr",
	"german":     "de",
	"portuguese": "pt",
	"korean":     "ko",
	"japanese":   "ja",
	"chinese":    "zh",
	"mandarin":   "zh",
	"arabic":     "ar",
	"russian":    "ru",
	"turkish":    "tr",
	"indonesian": "id",
	"thai":       "th",
	"vietnamese": "vi",
}

// CanonicalLanguage reduces a language name or tag to its BCP-47 base code:
// "Hindi" → "hi", "hi-IN" → "hi", "en_US" → "en". Unresolvable values fall
// back to the trimmed lowercase input so matching stays at least exact.
func CanonicalLanguage(s string) string {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" {
		return ""
	}
	if code, ok := languageAliases[trimmed]; ok {
		return code
	}

	tag, err := language.Parse(strings.ReplaceAll(trimmed, "_", "-"))
	if err != nil {
		return trimmed
	}
	base, conf := tag.Base()
	if conf == language.No {
		return trimmed
	}
	return base.String()
}

// CanonicalLanguages canonicalizes a list, dropping empties and duplicates
// while preserving order.
func CanonicalLanguages(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		code := CanonicalLanguage(v)
		if code == "" {
			continue
		}
		if _, dup := seen[code]; dup {
			continue
		}
		seen[code] = struct{}{}
		out = append(out, code)
	}
	return out
}
