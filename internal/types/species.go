package types

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// NormalizeSpeciesName turns a scientific name into the key used for data
// directories and lookups: trimmed, spaces and parentheses replaced by "_",
// lower case with the first letter upper case.
//
//	"Faxonius limosus"          -> "Faxonius_limosus"
//	"Astacus (Astacus) astacus" -> "Astacus__astacus__astacus"
func NormalizeSpeciesName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.NewReplacer(" ", "_", "(", "_", ")", "_").Replace(name)
	name = strings.ToLower(name)
	if name == "" {
		return name
	}

	r, size := utf8.DecodeRuneInString(name)
	return string(unicode.ToUpper(r)) + name[size:]
}
