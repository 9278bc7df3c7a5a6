package proposal

import "strings"

// categoryMarkers pairs output substrings with failure categories, most
// specific first. Matching is case-insensitive over the first marker found.
var categoryMarkers = []struct {
	marker   string
	category FailureCategory
}{
	{"indentationerror", FailIndentation},
	{"modulenotfounderror", FailImport},
	{"importerror", FailImport},
	{"cannot find package", FailImport},
	{"no module named", FailImport},
	{"syntaxerror", FailSyntax},
	{"syntax error", FailSyntax},
	{"nameerror", FailUndefined},
	{"undefined:", FailUndefined},
	{"is not defined", FailUndefined},
	{"typeerror", FailType},
	{"type mismatch", FailType},
	{"attributeerror", FailAttribute},
	{"has no attribute", FailAttribute},
	{"filenotfounderror", FailFileMissing},
	{"no such file", FailFileMissing},
}

// Categorize classifies the top error in test or validation output.
func Categorize(output string) FailureCategory {
	lowered := strings.ToLower(output)
	best := FailUnknown
	bestAt := len(lowered) + 1
	for _, m := range categoryMarkers {
		if at := strings.Index(lowered, m.marker); at >= 0 && at < bestAt {
			best = m.category
			bestAt = at
		}
	}
	return best
}

// rootCauses maps categories to the likely root cause carried in a fix
// request.
var rootCauses = map[FailureCategory]string{
	FailImport:      "an import does not resolve or a blocking module is used where an async one is required",
	FailSyntax:      "the file does not parse",
	FailIndentation: "inconsistent indentation",
	FailUndefined:   "a name is referenced before definition",
	FailType:        "a value is used with an incompatible type",
	FailAttribute:   "an object is missing the accessed attribute",
	FailFileMissing: "a referenced file path does not exist",
	FailUnknown:     "unclassified failure",
}

// RootCause returns the likely root cause for a category.
func RootCause(category FailureCategory) string {
	if cause, ok := rootCauses[category]; ok {
		return cause
	}
	return rootCauses[FailUnknown]
}
