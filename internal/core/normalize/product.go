package normalize

import (
	"regexp"
	"strings"
)

var (
	packSize   = regexp.MustCompile(`\b\d+(\.\d+)?\s*(g|kg|ml|l|pack|pk|x|ea|each)\b`)
	houseBrand = regexp.MustCompile(`\b(woolworths|macro|essentials|select|gold|free from)\b`)
	descriptor = regexp.MustCompile(`\b(organic|fresh|frozen|dried|sliced|diced|chopped|punnet|bag|tub|bottle|can|tin)\b`)
	bareNumber = regexp.MustCompile(`\b\d+\b`)
)

// IngredientFromProduct 從商品名稱推測食材名稱，取前兩個有意義的字
// 例："Woolworths Greek Style Yoghurt 1kg" -> "greek style"
func IngredientFromProduct(productName string) string {
	name := strings.ToLower(productName)
	name = packSize.ReplaceAllString(name, " ")
	name = houseBrand.ReplaceAllString(name, " ")
	name = descriptor.ReplaceAllString(name, " ")
	name = bareNumber.ReplaceAllString(name, " ")

	var words []string
	for _, w := range strings.Fields(name) {
		w = strings.Trim(w, ".,-|&()")
		if len(w) <= 2 {
			continue
		}
		words = append(words, w)
		if len(words) == 2 {
			break
		}
	}
	return strings.Join(words, " ")
}
