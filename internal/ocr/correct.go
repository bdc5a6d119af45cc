package ocr

import (
	"fmt"
	"regexp"
	"strings"
)

// letterToNumber holds the letter shapes OCR mistakes for digits,
// applied by assumed position within the plate.
var letterToNumber = map[byte]byte{'B': '8', 'D': '0', 'G': '6', 'S': '5', 'O': '0', 'I': '1', 'Z': '2'}

// numberToLetter inverts letterToNumber for positions expected to hold
// letters. O wins the 0 inversion over D.
var numberToLetter = func() map[byte]byte {
	m := make(map[byte]byte, len(letterToNumber))
	for l, n := range letterToNumber {
		if n == '0' && l != 'O' {
			continue
		}
		m[n] = l
	}
	return m
}()

var (
	reNonAlnum   = regexp.MustCompile(`[^A-Z0-9]`)
	reStandard   = regexp.MustCompile(`^([0-9]{2})([A-Z]{1,3})([0-9]{1,4})$`)
	reDiplomatic = regexp.MustCompile(`^[A-Z]{2,3}[0-9]{3,4}[A-Z]?$`)
	reOldStyle   = regexp.MustCompile(`^[A-Z]{1,2}[0-9]{2,4}[A-Z]{1,2}$`)
)

// validProvince holds the Turkish province codes 01 through 81.
var validProvince = func() map[string]bool {
	m := make(map[string]bool, 81)
	for i := 1; i <= 81; i++ {
		m[fmt.Sprintf("%02d", i)] = true
	}
	return m
}()

// CleanText uppercases, strips everything outside the plate alphabet,
// applies structure-aware confusion correction, and rejects readings
// with implausible length.
func CleanText(text string) string {
	t := reNonAlnum.ReplaceAllString(strings.ToUpper(strings.TrimSpace(text)), "")
	if t == "" {
		return ""
	}
	t = correct(t)
	if len(t) < 2 || len(t) > 10 {
		return ""
	}
	return t
}

// ValidFormat reports whether text matches a known plate format:
// standard province+letters+digits, diplomatic, or old-style.
func ValidFormat(text string) bool {
	if len(text) < 5 {
		return false
	}
	if m := reStandard.FindStringSubmatch(text); m != nil {
		return validProvince[m[1]]
	}
	return reDiplomatic.MatchString(text) || reOldStyle.MatchString(text)
}

// AdjustConfidence scales OCR confidence by format validity: a perfect
// standard plate with a real province code earns the full boost, other
// valid formats a smaller one, invalid text a penalty. The result stays
// within [0.1, 1.0] on the penalty side and caps at 1.0 on the boost side.
func AdjustConfidence(text string, confidence float64) float64 {
	if ValidFormat(text) {
		if m := reStandard.FindStringSubmatch(text); m != nil && validProvince[m[1]] {
			return minF(1.0, confidence*1.3)
		}
		return minF(1.0, confidence*1.15)
	}
	return maxF(0.1, confidence*0.9)
}

// shape is one standard plate structure: two province digits, then
// letters, then digits. weight reflects how common the structure is.
type shape struct {
	letters int
	numbers int
	weight  float64
}

var standardShapes = []shape{
	{1, 1, 0.7}, {1, 2, 0.8}, {1, 3, 0.9}, {1, 4, 0.9},
	{2, 1, 0.8}, {2, 2, 0.9}, {2, 3, 0.9}, {2, 4, 0.8},
	{3, 1, 0.9}, {3, 2, 0.8}, {3, 3, 0.7}, {3, 4, 0.6},
}

// candidate is one interpretation of the raw text with a confidence in
// that interpretation and the corrected text it implies.
type candidate struct {
	confidence float64
	corrected  string
}

// correct analyzes the text structure and applies the best-scoring
// correction when the analysis is confident enough, else falls back to
// fixing only the unambiguous O/I confusions.
func correct(text string) string {
	if len(text) < 5 {
		return text
	}
	best := analyze(text)
	if best.confidence > 0.6 {
		return best.corrected
	}
	return conservative(text)
}

// analyze scores every structural interpretation: the text as-is
// against each standard shape, confusion-corrected variants against
// each shape, and the special diplomatic and old-style formats.
func analyze(text string) candidate {
	best := candidate{}

	// Direct structural matches keep the text unchanged.
	for _, sh := range standardShapes {
		province, ok := splitStandard(text, sh)
		if !ok {
			continue
		}
		score := 0.5
		if validProvince[province] {
			score += 0.3
		}
		score += shapeBonus(sh)
		if c := score * sh.weight; c > best.confidence {
			best = candidate{confidence: c, corrected: text}
		}
	}

	// Corrected variants are discounted for the edits they carry.
	for _, v := range variants(text) {
		for _, sh := range standardShapes {
			province, ok := splitStandard(v.text, sh)
			if !ok {
				continue
			}
			score := 0.4 + v.score
			if validProvince[province] {
				score += 0.3
			}
			if c := score * sh.weight * 0.9; c > best.confidence {
				best = candidate{confidence: c, corrected: v.text}
			}
		}
	}

	if reDiplomatic.MatchString(text) {
		if c := 0.8; c > best.confidence {
			best = candidate{confidence: c, corrected: text}
		}
	}
	if reOldStyle.MatchString(text) {
		if c := 0.6; c > best.confidence {
			best = candidate{confidence: c, corrected: text}
		}
	}

	return best
}

// shapeBonus rewards the structures that dominate real traffic.
func shapeBonus(sh shape) float64 {
	switch {
	case sh.letters == 2 && (sh.numbers == 2 || sh.numbers == 3):
		return 0.2
	case sh.letters == 3 && sh.numbers == 1:
		return 0.15
	case sh.letters == 1 && sh.numbers == 4:
		return 0.15
	}
	return 0
}

// splitStandard checks text against one exact shape and returns the
// province digits on a match.
func splitStandard(text string, sh shape) (string, bool) {
	if len(text) != 2+sh.letters+sh.numbers {
		return "", false
	}
	province := text[:2]
	letters := text[2 : 2+sh.letters]
	numbers := text[2+sh.letters:]
	if !allDigits(province) || !allLetters(letters) || !allDigits(numbers) {
		return "", false
	}
	return province, true
}

type variant struct {
	text  string
	score float64
}

// variants generates correction hypotheses: a conservative province
// fix, and every letter/number boundary with position-appropriate
// confusion maps applied to each side.
func variants(text string) []variant {
	if len(text) < 5 {
		return nil
	}
	out := make([]variant, 0, 8)

	province := replaceBytes(text[:2], map[byte]byte{'O': '0', 'I': '1', 'D': '0'})
	if province != text[:2] {
		out = append(out, variant{text: province + text[2:], score: 0.1})
	}

	rest := text[2:]
	for split := 1; split < len(rest); split++ {
		rawLetters, rawNumbers := rest[:split], rest[split:]
		if len(rawLetters) > 3 || len(rawNumbers) > 4 {
			continue
		}

		letters := replaceBytes(rawLetters, numberToLetter)
		// The numbers side only gets the unambiguous fixes; G for 6
		// style swaps cause more damage than they repair here.
		numbers := replaceBytes(rawNumbers, map[byte]byte{'O': '0', 'I': '1', 'S': '5', 'Z': '2'})

		corrected := province + letters + numbers
		if corrected == text {
			continue
		}
		out = append(out, variant{
			text:  corrected,
			score: variantScore(rawLetters, rawNumbers, letters, numbers),
		})
	}
	return out
}

// variantScore rewards corrections that move each section toward its
// expected character class and penalizes heavy rewrites.
func variantScore(origLetters, origNumbers, corrLetters, corrNumbers string) float64 {
	score := 0.0
	if allLetters(corrLetters) && !allLetters(origLetters) {
		score += 0.15
	}
	if allDigits(corrNumbers) && !allDigits(origNumbers) {
		score += 0.15
	}

	changes := diffCount(origLetters, corrLetters) + diffCount(origNumbers, corrNumbers)
	switch {
	case changes <= 2:
		score += 0.1
	case changes <= 4:
		score += 0.05
	default:
		score -= 0.1
	}
	return score
}

// conservative fixes only the two confusions that are nearly always
// right, used when no structural reading is trustworthy.
func conservative(text string) string {
	return replaceBytes(text, map[byte]byte{'O': '0', 'I': '1'})
}

func replaceBytes(s string, m map[byte]byte) string {
	b := []byte(s)
	changed := false
	for i, c := range b {
		if r, ok := m[c]; ok {
			b[i] = r
			changed = true
		}
	}
	if !changed {
		return s
	}
	return string(b)
}

func diffCount(a, b string) int {
	n := 0
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			n++
		}
	}
	return n
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func allLetters(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 'A' || s[i] > 'Z' {
			return false
		}
	}
	return true
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
