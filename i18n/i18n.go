// Package i18n looks up user-facing strings. A Translator is built once per
// context from the embedded catalogues and passed to whoever needs it.
package i18n

import (
	"embed"
	"fmt"
	"strings"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var locales embed.FS

// Fallback is the language every lookup falls back to.
const Fallback = "en"

var supported = []language.Tag{language.English, language.Chinese}

var matcher = language.NewMatcher(supported)

// Translator resolves message keys for one language.
type Translator struct {
	lang string
	msgs map[string]string
}

// New picks the best supported language for the preferences (BCP 47 tags
// such as "zh-CN" or "en-US;q=0.8" as found in Accept-Language) and loads
// its catalogue over the English one. Unparseable preferences are ignored.
func New(preferred ...string) (*Translator, error) {
	lang := Match(preferred...)

	msgs, err := load(Fallback)
	if err != nil {
		return nil, err
	}
	if lang != Fallback {
		own, err := load(lang)
		if err != nil {
			return nil, err
		}
		for k, v := range own {
			msgs[k] = v
		}
	}
	return &Translator{lang: lang, msgs: msgs}, nil
}

// Match returns the supported base language closest to the preferences.
func Match(preferred ...string) string {
	var tags []language.Tag
	for _, p := range preferred {
		if p == "" {
			continue
		}
		parsed, _, err := language.ParseAcceptLanguage(p)
		if err != nil {
			continue
		}
		tags = append(tags, parsed...)
	}
	if len(tags) == 0 {
		return Fallback
	}
	_, idx, conf := matcher.Match(tags...)
	if conf == language.No {
		return Fallback
	}
	base, _ := supported[idx].Base()
	return base.String()
}

// Supported lists the languages with a catalogue.
func Supported() []string {
	out := make([]string, 0, len(supported))
	for _, t := range supported {
		b, _ := t.Base()
		out = append(out, b.String())
	}
	return out
}

func load(lang string) (map[string]string, error) {
	data, err := locales.ReadFile("locales/" + lang + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("i18n: read %s catalogue: %w", lang, err)
	}
	msgs := make(map[string]string)
	if err := yaml.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("i18n: parse %s catalogue: %w", lang, err)
	}
	return msgs, nil
}

// Language returns the language in use.
func (t *Translator) Language() string { return t.lang }

// T returns the message for key with {name} placeholders replaced from
// args, given as alternating name/value pairs. An unknown key is returned
// as is.
func (t *Translator) T(key string, args ...any) string {
	msg, ok := t.msgs[key]
	if !ok {
		msg = key
	}
	if len(args) < 2 {
		return msg
	}
	pairs := make([]string, 0, len(args))
	for i := 0; i+1 < len(args); i += 2 {
		pairs = append(pairs, "{"+fmt.Sprint(args[i])+"}", fmt.Sprint(args[i+1]))
	}
	return strings.NewReplacer(pairs...).Replace(msg)
}
