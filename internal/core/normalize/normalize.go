// Package normalize 將食材文字轉為穩定的查詢鍵
package normalize

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Invalid 空白或無法處理的輸入所回傳的保留鍵
const Invalid = "\x00invalid"

var stripAccents = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// 同義詞，以完整單字片語比對，值為標準寫法
var synonyms = map[string]string{
	"yoghurt":             "yogurt",
	"cilantro":            "coriander",
	"scallion":            "spring onion",
	"green onion":         "spring onion",
	"bell pepper":         "capsicum",
	"eggplant":            "aubergine",
	"zucchini":            "courgette",
	"garbanzo bean":       "chickpea",
	"confectioners sugar": "icing sugar",
	"powdered sugar":      "icing sugar",
	"ground beef":         "beef mince",
	"minced beef":         "beef mince",
	"arugula":             "rocket",
	"shrimp":              "prawn",
}

// 長片語先取代，結果與 map 迭代順序無關
var synonymOrder = func() []string {
	keys := make([]string, 0, len(synonyms))
	for k := range synonyms {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// 不規則複數
var irregular = map[string]string{
	"cookies":   "cookie",
	"brownies":  "brownie",
	"smoothies": "smoothie",
	"leaves":    "leaf",
	"loaves":    "loaf",
	"knives":    "knife",
}

// 本身以 s 結尾的食材
var uncountable = map[string]bool{
	"hummus":    true,
	"couscous":  true,
	"asparagus": true,
	"molasses":  true,
	"oats":      true,
	"greens":    true,
	"swiss":     true,
	"lettuce":   true,
}

var keepSuffixes = []string{"ss", "us", "is"}

var spaces = regexp.MustCompile(`\s+`)

// Normalize 轉換成查詢鍵；純函式，相同輸入必得相同輸出
func Normalize(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	if s == "" {
		return Invalid
	}

	s, _, _ = transform.String(stripAccents, s)
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			return r
		case r == '-', r == '\'', r == '&', r == '%', r == '.':
			return r
		}
		return ' '
	}, s)
	s = strings.Trim(spaces.ReplaceAllString(s, " "), " -'.&")
	if s == "" {
		return Invalid
	}

	words := strings.Fields(s)
	words[len(words)-1] = singular(words[len(words)-1])

	return applySynonyms(strings.Join(words, " "))
}

// IsValid 判斷是否為可用的查詢鍵
func IsValid(key string) bool {
	return key != "" && key != Invalid
}

// applySynonyms 只取代以完整單字出現的同義片語
func applySynonyms(s string) string {
	if canonical, ok := synonyms[s]; ok {
		return canonical
	}
	padded := " " + s + " "
	for _, from := range synonymOrder {
		needle := " " + from + " "
		if strings.Contains(padded, needle) {
			padded = strings.ReplaceAll(padded, needle, " "+synonyms[from]+" ")
		}
	}
	return strings.TrimSpace(padded)
}

// singular 保守的單數化，只處理最後一個字
func singular(w string) string {
	if uncountable[w] {
		return w
	}
	if s, ok := irregular[w]; ok {
		return s
	}
	for _, suffix := range keepSuffixes {
		if strings.HasSuffix(w, suffix) {
			return w
		}
	}
	switch {
	case len(w) > 4 && strings.HasSuffix(w, "ies"):
		return strings.TrimSuffix(w, "ies") + "y"
	case len(w) > 4 && strings.HasSuffix(w, "oes"):
		return strings.TrimSuffix(w, "es")
	case len(w) > 4 && (strings.HasSuffix(w, "ches") || strings.HasSuffix(w, "shes") || strings.HasSuffix(w, "xes")):
		return strings.TrimSuffix(w, "es")
	case len(w) > 3 && strings.HasSuffix(w, "s"):
		return strings.TrimSuffix(w, "s")
	}
	return w
}
