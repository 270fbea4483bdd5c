package ingest

import (
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/apm-cli/internal/model"
)

// MatchKind records which strategy resolved a name.
type MatchKind string

const (
	MatchNone       MatchKind = ""
	MatchExact      MatchKind = "exact"
	MatchNormalized MatchKind = "normalized"
	MatchSubstring  MatchKind = "substring"
	MatchToken      MatchKind = "token"
	MatchFuzzy      MatchKind = "fuzzy"
)

const fuzzyCutoff = 0.80

var (
	parenRe   = regexp.MustCompile(`\([^)]*\)`)
	parenInRe = regexp.MustCompile(`\(([^)]+)\)`)
	wordRe    = regexp.MustCompile(`[\p{L}\p{N}_]+`)
)

var nameNoise = map[string]bool{"remote": true, "local": true, "the": true, "a": true, "an": true}

var tokenNoise = map[string]bool{
	"the": true, "a": true, "an": true, "and": true, "or": true, "of": true,
	"in": true, "on": true, "at": true, "to": true, "for": true, "with": true,
	"by": true, "file": true, "app": true, "application": true, "system": true,
	"tool": true, "software": true, "ms": true, "project": true, "database": true,
	"db": true, "program": true, "service": true,
}

// AppNameFromFile derives an application name from a transcript file name,
// e.g. "Maximo - Application Assessment.txt" or "GIS Portal - 2024-03-01.txt".
func AppNameFromFile(fileName string) string {
	base := filepath.Base(fileName)
	base = strings.TrimSuffix(base, filepath.Ext(base))

	if i := strings.Index(strings.ToLower(base), " - application assessment"); i >= 0 {
		return strings.TrimSpace(base[:i])
	}
	if i := strings.Index(base, " - "); i >= 0 {
		return strings.TrimSpace(base[:i])
	}
	return strings.TrimSpace(base)
}

// foldAccents strips combining marks after NFD decomposition.
func foldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeName reduces an application name to a comparison key: lower
// case, accents folded, parenthesised qualifiers and filler words removed,
// punctuation collapsed to single spaces.
func NormalizeName(name string) string {
	s := foldAccents(strings.ToLower(name))
	s = parenRe.ReplaceAllString(s, " ")

	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		} else {
			b.WriteRune(' ')
		}
	}

	var words []string
	for _, w := range strings.Fields(b.String()) {
		if !nameNoise[w] {
			words = append(words, w)
		}
	}
	return strings.Join(words, " ")
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, w := range wordRe.FindAllString(foldAccents(s), -1) {
		if len(w) >= 2 && !tokenNoise[w] {
			out[w] = true
		}
	}
	return out
}

// significantTokens splits a name into tokens outside parentheses and all
// tokens including the parenthesised part.
func significantTokens(name string) (primary, all map[string]bool) {
	lower := strings.ToLower(name)
	outside := parenRe.ReplaceAllString(lower, " ")
	inside := parenInRe.FindAllStringSubmatch(lower, -1)

	primary = tokenSet(outside)
	var extra []string
	for _, m := range inside {
		extra = append(extra, m[1])
	}
	all = tokenSet(outside + " " + strings.Join(extra, " "))
	return primary, all
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}

// MatchApplication resolves a name against known applications. Strategies
// run in order: exact (case-insensitive), normalized, substring either way
// (longest overlap wins), token overlap, then Levenshtein similarity of at
// least 0.8 on raw and normalized names.
func MatchApplication(name string, apps []model.Application) (*model.Application, MatchKind) {
	lower := strings.ToLower(strings.TrimSpace(name))
	if lower == "" || len(apps) == 0 {
		return nil, MatchNone
	}

	// Stable order so ties resolve the same way on every run.
	sorted := make([]model.Application, len(apps))
	copy(sorted, apps)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	for i := range sorted {
		if strings.ToLower(sorted[i].Name) == lower {
			return &sorted[i], MatchExact
		}
	}

	normName := NormalizeName(name)
	if normName != "" {
		for i := range sorted {
			if NormalizeName(sorted[i].Name) == normName {
				return &sorted[i], MatchNormalized
			}
		}
	}

	best, bestLen := -1, 0
	for i := range sorted {
		appLower := strings.ToLower(sorted[i].Name)
		if strings.Contains(lower, appLower) || strings.Contains(appLower, lower) {
			if n := min(len(appLower), len(lower)); n > bestLen {
				best, bestLen = i, n
			}
		}
	}
	if best >= 0 {
		return &sorted[best], MatchSubstring
	}

	filePrimary, fileAll := significantTokens(name)
	best, bestScore := -1, 0.0
	for i := range sorted {
		appPrimary, appAll := significantTokens(sorted[i].Name)
		if len(filePrimary) == 0 || len(appPrimary) == 0 {
			continue
		}
		if sim := jaccard(filePrimary, appPrimary); sim >= 0.8 {
			if sim > bestScore {
				best, bestScore = i, sim
			}
			continue
		}
		if sim := jaccard(fileAll, appAll); sim >= 0.4 && sim > bestScore {
			best, bestScore = i, sim
		}
	}
	if best >= 0 {
		return &sorted[best], MatchToken
	}

	best, bestScore = -1, 0.0
	for i := range sorted {
		sim := levenshtein.Similarity(lower, strings.ToLower(sorted[i].Name), nil)
		if n := levenshtein.Similarity(normName, NormalizeName(sorted[i].Name), nil); normName != "" && n > sim {
			sim = n
		}
		if sim >= fuzzyCutoff && sim > bestScore {
			best, bestScore = i, sim
		}
	}
	if best >= 0 {
		return &sorted[best], MatchFuzzy
	}
	return nil, MatchNone
}

// IsCommercial reports whether the application name mentions a vendor from
// the list (case-insensitive substring).
func IsCommercial(name string, vendors []string) bool {
	lower := strings.ToLower(name)
	for _, v := range vendors {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" && strings.Contains(lower, v) {
			return true
		}
	}
	return false
}
