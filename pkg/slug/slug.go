// Package slug turns display names into stable lowercase keys.
package slug

import (
	"regexp"
	"strings"
)

var (
	nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

	// fold maps romanized Arabic marks and Turkish letters to plain ASCII.
	// Ayn, hamza and apostrophes are dropped so "Du'a" and "Duʿāʾ" agree.
	fold = strings.NewReplacer(
		"ā", "a", "ī", "i", "ū", "u", "â", "a", "î", "i", "û", "u",
		"ḥ", "h", "ṣ", "s", "ḍ", "d", "ṭ", "t", "ẓ", "z",
		"ḏ", "dh", "ṯ", "th", "ġ", "gh", "ḫ", "kh",
		"ʿ", "", "ʾ", "", "'", "", "’", "", "‘", "",
		"ç", "c", "ğ", "g", "ı", "i", "ö", "o", "ş", "s", "ü", "u",
	)
)

// Generate creates a slug from name.
//
// Examples:
//   - "Subḥān Allāh" → "subhan-allah"
//   - "Duʿāʾ al-Qunūt" → "dua-al-qunut"
//   - "Şeker Bayramı" → "seker-bayrami"
func Generate(name string) string {
	s := fold.Replace(strings.ToLower(strings.TrimSpace(name)))
	s = nonAlnum.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}
