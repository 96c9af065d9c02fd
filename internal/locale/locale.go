// Package locale picks the best translation of catalog text for the user's language.
package locale

import (
	"sort"
	"strings"

	golocale "github.com/jeandeaual/go-locale"
	"golang.org/x/text/language"
)

// Auto asks Detect to use the system locale.
const Auto = "auto"

const fallbackLocale = "en-US"

// Detect returns the configured locale, or the system one for "auto".
func Detect(setting string) string {
	if setting != "" && setting != Auto {
		return setting
	}
	userLocale, err := golocale.GetLocale()
	if err != nil || userLocale == "" {
		return fallbackLocale
	}
	return userLocale
}

// Tag parses POSIX ("pt_BR.UTF-8") and BCP 47 ("pt-BR") forms.
func Tag(s string) language.Tag {
	s = normalize(s)
	switch s {
	case "", "C", "POSIX":
		return language.English
	}
	tag, err := language.Parse(s)
	if err != nil {
		return language.Und
	}
	return tag
}

func normalize(s string) string {
	if i := strings.IndexAny(s, ".@"); i >= 0 {
		s = s[:i]
	}
	return strings.ReplaceAll(strings.TrimSpace(s), "_", "-")
}

// Resolver resolves name_<lang> / description_<lang> translations.
type Resolver struct {
	want language.Tag
}

// NewResolver creates a resolver for the given locale string.
func NewResolver(loc string) *Resolver {
	return &Resolver{want: Tag(loc)}
}

// Language returns the tag translations are matched against.
func (r *Resolver) Language() language.Tag { return r.want }

// Resolve returns translations[field_<lang>] for the best matching language,
// or base when nothing matches.
func (r *Resolver) Resolve(translations map[string]string, field, base string) string {
	if len(translations) == 0 || r.want == language.Und {
		return base
	}
	prefix := field + "_"

	// index 0 is the "no translation" slot the matcher falls back to
	tags := []language.Tag{language.Und}
	keys := []string{""}
	names := make([]string, 0, len(translations))
	for k, v := range translations {
		if v != "" && strings.HasPrefix(k, prefix) {
			names = append(names, k)
		}
	}
	sort.Strings(names)
	for _, k := range names {
		tag := Tag(strings.TrimPrefix(k, prefix))
		if tag == language.Und {
			continue
		}
		tags = append(tags, tag)
		keys = append(keys, k)
	}
	if len(tags) == 1 {
		return base
	}

	_, idx, conf := language.NewMatcher(tags).Match(r.want)
	if idx == 0 || conf == language.No {
		return base
	}
	return translations[keys[idx]]
}
