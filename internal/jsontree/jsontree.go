// Package jsontree locates the product-list payload inside an
// arbitrarily nested search API response. The upstream response shape
// changes without notice, so instead of binding to a schema we walk the
// decoded tree looking for anything that resembles a product object or
// a list of them.
package jsontree

import "sort"

// Field aliases observed across upstream payload variants. Listed in
// priority order; the named keys are descended into before anything
// else at the same level.
var (
	identifierKeys = []string{"skuId", "sku"}
	priceKeys      = []string{"jdPrice", "price"}
	descentKeys    = []string{"Paragraph", "wareList", "wareInfo", "searchm", "data", "goodsList"}
)

// DefaultMaxNodes bounds how many tree nodes a single search may visit.
// JSON trees are acyclic so termination is already guaranteed; the cap
// only bounds worst-case cost on adversarial payloads.
const DefaultMaxNodes = 100_000

const maxDepth = 64

type frame struct {
	node  any
	depth int
}

// FindProducts walks v depth-first on an explicit stack and returns the
// first product list it finds. An empty result means "nothing matched"
// and is not an error: callers fall through to the next extraction
// strategy.
func FindProducts(v any) []map[string]any {
	budget := DefaultMaxNodes
	stack := []frame{{node: v}}

	for len(stack) > 0 && budget > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if f.depth > maxDepth {
			continue
		}
		budget--

		switch node := f.node.(type) {
		case map[string]any:
			if hasAnyKey(node, identifierKeys) && hasAnyKey(node, priceKeys) {
				return []map[string]any{node}
			}
			// Children pushed in reverse so the priority keys pop first.
			var children []any
			for _, key := range descentKeys {
				if child, ok := node[key]; ok {
					children = append(children, child)
				}
			}
			for _, key := range sortedKeys(node) {
				switch node[key].(type) {
				case map[string]any, []any:
					children = append(children, node[key])
				}
			}
			for i := len(children) - 1; i >= 0; i-- {
				stack = append(stack, frame{node: children[i], depth: f.depth + 1})
			}
		case []any:
			if len(node) > 0 {
				if first, ok := node[0].(map[string]any); ok && hasAnyKey(first, identifierKeys) {
					return itemMaps(node)
				}
			}
			for i := len(node) - 1; i >= 0; i-- {
				stack = append(stack, frame{node: node[i], depth: f.depth + 1})
			}
		}
	}
	return nil
}

func hasAnyKey(m map[string]any, keys []string) bool {
	for _, k := range keys {
		if _, ok := m[k]; ok {
			return true
		}
	}
	return false
}

// sortedKeys makes the all-values fallback deterministic; Go map
// iteration order would otherwise vary between runs.
func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func itemMaps(items []any) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		if m, ok := it.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
