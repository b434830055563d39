package mesh

import "sort"

// languageNames maps the 3-letter MARC language codes recognized by the
// dictionary/language rule (each 041 $a code is added, by its full name,
// as a $x on the Dict-group 650s) to their full display names, grounded in
// meshproc.c's language table. This compiled-in map is the rulebook's only
// language table; no language table file is read.
var languageNames = map[string]string{
	"eng": "English",
	"fre": "French",
	"ger": "German",
	"spa": "Spanish",
	"ita": "Italian",
	"dut": "Dutch",
	"por": "Portuguese",
	"rus": "Russian",
	"jpn": "Japanese",
	"chi": "Chinese",
	"pol": "Polish",
	"swe": "Swedish",
	"dan": "Danish",
	"nor": "Norwegian",
	"fin": "Finnish",
	"cze": "Czech",
	"hun": "Hungarian",
	"gre": "Greek",
	"tur": "Turkish",
	"ara": "Arabic",
	"heb": "Hebrew",
	"lat": "Latin",
	"ukr": "Ukrainian",
	"rum": "Romanian",
	"slo": "Slovak",
	"may": "Malay",
}

// und and mul are the MARC pseudo-codes for "undetermined" and "multiple
// languages" respectively; the dictionary rule skips duplication for either
// rather than treating them as unknown codes (spec.md §4.7 edge case).
const (
	langUndetermined = "und"
	langMultiple     = "mul"
)

// LanguageName resolves a 3-letter MARC language code to its display name.
// ok is false for an unrecognized code, which the dictionary rule treats as
// a record-killing error unless the code is und or mul.
func LanguageName(code string) (name string, ok bool) {
	if code == langUndetermined || code == langMultiple {
		return "", false
	}
	name, ok = languageNames[code]
	return name, ok
}

// IsSkippedLanguageCode reports whether code is the und or mul pseudo-code,
// which the dictionary rule passes over silently instead of erroring.
func IsSkippedLanguageCode(code string) bool {
	return code == langUndetermined || code == langMultiple
}

// LanguageCodes returns every recognized code, sorted, for diagnostics and
// table-dump output.
func LanguageCodes() []string {
	codes := make([]string, 0, len(languageNames))
	for c := range languageNames {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}
