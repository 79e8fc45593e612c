// Package lang defines the set of reply languages the decoder supports and
// the mapping from a stored language code to the English name the analysis
// prompt needs (the model is told which language to reply in by name, not code).
package lang

import (
	"sort"

	"github.com/samber/lo"
)

// Code is a supported language code as persisted in the preference store.
type Code string

const (
	English    Code = "en"
	Spanish    Code = "es"
	French     Code = "fr"
	German     Code = "de"
	Italian    Code = "it"
	Portuguese Code = "pt"
	Japanese   Code = "ja"
	Arabic     Code = "ar"
)

// Default is the language used when no valid preference is stored.
const Default = English

var names = map[Code]string{
	English:    "English",
	Spanish:    "Spanish",
	French:     "French",
	German:     "German",
	Italian:    "Italian",
	Portuguese: "Portuguese",
	Japanese:   "Japanese",
	Arabic:     "Arabic",
}

// Supported reports whether code is a known language code.
func Supported(code Code) bool {
	_, ok := names[code]
	return ok
}

// Name returns the English name of the language for use in the analysis
// prompt (e.g. "es" -> "Spanish"). Unknown codes fall back to "English".
func Name(code Code) string {
	if name, ok := names[code]; ok {
		return name
	}
	return names[Default]
}

// Codes returns all supported codes in stable sorted order.
func Codes() []Code {
	codes := lo.Keys(names)
	sort.Slice(codes, func(i, j int) bool { return codes[i] < codes[j] })
	return codes
}
