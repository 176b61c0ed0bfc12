package qdrant

import (
	"fmt"
	"sort"
	"strings"
)

const (
	filterOpIn = "$in"
	filterOpEq = "$eq"
	filterOpNe = "$ne"
)

type translatedFilter struct {
	Must    []any
	MustNot []any
}

func (f translatedFilter) asMap() map[string]any {
	out := map[string]any{}
	if len(f.Must) > 0 {
		out["must"] = f.Must
	}
	if len(f.MustNot) > 0 {
		out["must_not"] = f.MustNot
	}
	return out
}

// translateFilterMap converts the small filter dialect used by the retriever
// and ingestion pipeline ({key: value}, {key: {$eq/$ne/$in: ...}}) into a
// Qdrant filter object. Filtering always happens server-side so topK result
// counts stay meaningful.
func translateFilterMap(filter map[string]any) (translatedFilter, error) {
	out := translatedFilter{}
	if len(filter) == 0 {
		return out, nil
	}

	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		k := strings.TrimSpace(key)
		if k == "" {
			continue
		}
		value := filter[key]

		ops, isOps := value.(map[string]any)
		if !isOps {
			out.Must = append(out.Must, matchCondition(k, value))
			continue
		}
		for op, operand := range ops {
			switch strings.ToLower(strings.TrimSpace(op)) {
			case filterOpEq:
				out.Must = append(out.Must, matchCondition(k, operand))
			case filterOpNe:
				out.MustNot = append(out.MustNot, matchCondition(k, operand))
			case filterOpIn:
				values, ok := operand.([]any)
				if !ok {
					return translatedFilter{}, opErr(
						"filter_translate",
						OperationErrorValidation,
						fmt.Sprintf("operator %s expects an array for key %q", filterOpIn, k),
						nil,
					)
				}
				out.Must = append(out.Must, matchAnyCondition(k, values))
			default:
				return translatedFilter{}, opErr(
					"filter_translate",
					OperationErrorUnsupportedFilter,
					fmt.Sprintf("unsupported filter operator %q for key %q", op, k),
					nil,
				)
			}
		}
	}
	return out, nil
}

func matchCondition(key string, value any) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"value": value},
	}
}

func matchAnyCondition(key string, values []any) map[string]any {
	return map[string]any{
		"key":   key,
		"match": map[string]any{"any": values},
	}
}
