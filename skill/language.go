package skill

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// knownLanguages are the ISO 639-1 codes whose English and native names are recognized.
var knownLanguages = []string{
	"ar", "bg", "bn", "ca", "cs", "da", "de", "el", "en", "es", "et", "fa", "fi", "fr",
	"ga", "he", "hi", "hr", "hu", "id", "is", "it", "ja", "ko", "lt", "lv", "ms", "mt",
	"nb", "nl", "nn", "no", "pl", "pt", "ro", "ru", "sk", "sl", "sq", "sr", "sv", "sw",
	"th", "tl", "tr", "uk", "ur", "vi", "zh",
}

var languageNames = buildLanguageNames()

func buildLanguageNames() map[string]string {
	names := make(map[string]string, 2*len(knownLanguages))
	english := display.English.Languages()
	for _, code := range knownLanguages {
		tag := language.MustParse(code)
		names[strings.ToLower(english.Name(tag))] = code
		names[strings.ToLower(display.Self.Name(tag))] = code
	}
	return names
}

// languageCode finds the ISO 639-1 code of a language given by English or native name
// ("German", "Deutsch") or as a BCP 47 tag ("de", "pt-BR").
func languageCode(name string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if code, ok := languageNames[key]; ok {
		return code, nil
	}
	if tag, err := language.Parse(key); err == nil {
		if base, conf := tag.Base(); conf == language.Exact {
			return base.String(), nil
		}
	}
	return "", &LanguageNotFoundError{Language: name}
}
