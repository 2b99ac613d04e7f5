package maestro

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalizer canonicalizes a natural-key value before deduplication or lookup.
// Every normalizer is idempotent.
type Normalizer func(string) string

// Normalizer modes accepted in manifests and job files.
const (
	ModeLowercase      = "lowercase"
	ModeLowercaseASCII = "lowercase_ascii"
	ModeLabel          = "label"
	ModeNone           = "none"
)

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// NormalizeLowercase lowercases and trims surrounding whitespace ("  Teno Prado " -> "teno prado").
func NormalizeLowercase(s string) string {
	return strings.TrimSpace(strings.ToLower(s))
}

// NormalizeLowercaseASCII lowercases, trims and strips accents ("Almidón" -> "almidon").
func NormalizeLowercaseASCII(s string) string {
	result, _, _ := transform.String(stripAccents, NormalizeLowercase(s))
	return result
}

// NormalizeLabel is NormalizeLowercase for labels that spreadsheets may have
// stored as numbers: an integral float such as "5.0" becomes "5".
func NormalizeLabel(s string) string {
	s = NormalizeLowercase(s)
	if !strings.Contains(s, ".") {
		return s
	}
	if n, ok := parseIntegral(s); ok {
		return strconv.FormatInt(n, 10)
	}
	return s
}

// maxExactFloat is the largest magnitude below which every integer is
// exactly representable as a float64.
const maxExactFloat = 1 << 53

// parseIntegral parses s as an integer written with an all-zero fraction
// ("12.00") or as a float holding an exact integer ("1.2e1").
func parseIntegral(s string) (int64, bool) {
	whole, frac, found := strings.Cut(s, ".")
	if found && strings.Trim(frac, "0") == "" {
		if n, err := strconv.ParseInt(whole, 10, 64); err == nil {
			return n, true
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.Abs(f) > maxExactFloat || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}

// NormalizeNone returns the value unchanged.
func NormalizeNone(s string) string {
	return s
}

// GetNormalizer returns the normalizer for the given mode.
// Default is lowercase.
func GetNormalizer(mode string) Normalizer {
	switch mode {
	case ModeLowercaseASCII:
		return NormalizeLowercaseASCII
	case ModeLabel:
		return NormalizeLabel
	case ModeNone:
		return NormalizeNone
	default:
		return NormalizeLowercase
	}
}

// ValidMode reports an error for modes GetNormalizer would silently replace
// with the default.
func ValidMode(mode string) error {
	switch mode {
	case "", ModeLowercase, ModeLowercaseASCII, ModeLabel, ModeNone:
		return nil
	}
	return fmt.Errorf("unknown normalize mode %q", mode)
}
