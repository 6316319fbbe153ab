package merging

import (
	"fmt"
	"reflect"
	"sort"
)

// mergeAttributes folds duplicate into canonical. Non-empty canonical values win; the duplicate fills
// missing or empty keys; arrays are collected with duplicates removed; objects merge recursively.
// conflicts lists the keys where both sides held different scalar values.
func mergeAttributes(canonical, duplicate map[string]any) (merged map[string]any, conflicts []string) {
	if len(duplicate) == 0 {
		return canonical, nil
	}

	merged = make(map[string]any, len(canonical)+len(duplicate))
	for k, v := range canonical {
		merged[k] = v
	}

	for k, dv := range duplicate {
		cv, ok := merged[k]
		if !ok || isEmpty(cv) {
			merged[k] = dv
			continue
		}
		if isEmpty(dv) {
			continue
		}

		switch c := cv.(type) {
		case []any:
			if d, ok := dv.([]any); ok {
				merged[k] = collectAll(c, d)
				continue
			}
		case map[string]any:
			if d, ok := dv.(map[string]any); ok {
				nested, nestedConflicts := mergeAttributes(c, d)
				merged[k] = nested
				for _, nc := range nestedConflicts {
					conflicts = append(conflicts, k+"."+nc)
				}
				continue
			}
		}

		if !reflect.DeepEqual(cv, dv) {
			conflicts = append(conflicts, k)
		}
	}

	sort.Strings(conflicts)
	return merged, conflicts
}

// collectAll concatenates arrays, keeping the first occurrence of each value.
func collectAll(arrays ...[]any) []any {
	var out []any
	seen := make(map[string]bool)
	for _, arr := range arrays {
		for _, v := range arr {
			key := fmt.Sprintf("%T:%v", v, v)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, v)
		}
	}
	return out
}

func isEmpty(v any) bool {
	if v == nil {
		return true
	}
	switch val := v.(type) {
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	default:
		return false
	}
}
