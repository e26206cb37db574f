package rename

import (
	"strings"
	"unicode"

	"github.com/abadojack/whatlanggo"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

type CaseMode string

const (
	CaseNone       CaseMode = ""
	CaseLower      CaseMode = "lower"
	CaseUpper      CaseMode = "upper"
	CaseCapitalize CaseMode = "capitalize"
	CaseCamel      CaseMode = "camel"
)

type SeparatorMode string

const (
	SeparatorNone  SeparatorMode = ""
	SeparatorSnake SeparatorMode = "snake"
	SeparatorKebab SeparatorMode = "kebab"
	SeparatorSpace SeparatorMode = "space"
)

// NameTransform is the single final transform applied to the concatenated
// stem after all modules have run. The lower and upper case modes recase
// the extension too; the word transforms and the separator never touch it.
type NameTransform struct {
	Case      CaseMode      `json:"case"`
	Separator SeparatorMode `json:"separator"`
	Greeklish bool          `json:"greeklish"`
}

func (t NameTransform) IsIdentity() bool {
	return t.Case == CaseNone && t.Separator == SeparatorNone && !t.Greeklish
}

func (t NameTransform) Apply(stem string) string {
	if stem == "" {
		return stem
	}
	if t.Greeklish {
		stem = Greeklish(stem)
	}

	switch t.Case {
	case CaseLower:
		stem = strings.ToLower(stem)
	case CaseUpper:
		stem = strings.ToUpper(stem)
	case CaseCapitalize:
		stem = cases.Title(language.Und).String(stem)
	case CaseCamel:
		stem = camelCase(stem)
	}

	switch t.Separator {
	case SeparatorSnake:
		stem = replaceSeparators(stem, '_')
	case SeparatorKebab:
		stem = replaceSeparators(stem, '-')
	case SeparatorSpace:
		stem = replaceSeparators(stem, ' ')
	}
	return stem
}

// ApplyExt recases the extension (leading dot included) for the uniform
// case modes, so "photo.JPG" with lower becomes "photo.jpg". Capitalize and
// camel are word transforms and leave the extension alone.
func (t NameTransform) ApplyExt(ext string) string {
	switch t.Case {
	case CaseLower:
		return strings.ToLower(ext)
	case CaseUpper:
		return strings.ToUpper(ext)
	}
	return ext
}

func isSeparator(r rune) bool {
	return r == ' ' || r == '_' || r == '-'
}

func replaceSeparators(s string, target rune) string {
	return strings.Map(func(r rune) rune {
		if isSeparator(r) {
			return target
		}
		return r
	}, s)
}

func camelCase(s string) string {
	words := strings.FieldsFunc(s, isSeparator)
	if len(words) == 0 {
		return s
	}
	title := cases.Title(language.Und)

	var builder strings.Builder
	builder.WriteString(strings.ToLower(words[0]))
	for _, word := range words[1:] {
		builder.WriteString(title.String(word))
	}
	return builder.String()
}

// greeklishTable maps Greek letters to their conventional Latin rendering.
var greeklishTable = map[rune]string{
	'α': "a", 'ά': "a", 'β': "v", 'γ': "g", 'δ': "d",
	'ε': "e", 'έ': "e", 'ζ': "z", 'η': "i", 'ή': "i",
	'θ': "th", 'ι': "i", 'ί': "i", 'ϊ': "i", 'ΐ': "i",
	'κ': "k", 'λ': "l", 'μ': "m", 'ν': "n", 'ξ': "x",
	'ο': "o", 'ό': "o", 'π': "p", 'ρ': "r", 'σ': "s",
	'ς': "s", 'τ': "t", 'υ': "y", 'ύ': "y", 'ϋ': "y",
	'ΰ': "y", 'φ': "f", 'χ': "ch", 'ψ': "ps", 'ω': "o",
	'ώ': "o",
	'Α': "A", 'Ά': "A", 'Β': "V", 'Γ': "G", 'Δ': "D",
	'Ε': "E", 'Έ': "E", 'Ζ': "Z", 'Η': "I", 'Ή': "I",
	'Θ': "Th", 'Ι': "I", 'Ί': "I", 'Ϊ': "I", 'Κ': "K",
	'Λ': "L", 'Μ': "M", 'Ν': "N", 'Ξ': "X", 'Ο': "O",
	'Ό': "O", 'Π': "P", 'Ρ': "R", 'Σ': "S", 'Τ': "T",
	'Υ': "Y", 'Ύ': "Y", 'Ϋ': "Y", 'Φ': "F", 'Χ': "Ch",
	'Ψ': "Ps", 'Ω': "O", 'Ώ': "O",
}

// Greeklish transliterates Greek text to Latin. Script detection gates the
// conversion so mixed or Latin names pass through untouched.
func Greeklish(s string) string {
	if whatlanggo.DetectScript(s) != unicode.Greek {
		return s
	}

	var builder strings.Builder
	builder.Grow(len(s))
	for _, r := range s {
		if latin, ok := greeklishTable[r]; ok {
			builder.WriteString(latin)
			continue
		}
		builder.WriteRune(r)
	}
	return builder.String()
}
