package vectorstore

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// metadataFilter compiles a JSON metadata filter into a SQL condition over
// the jsonb metadata column.
//
//	{"source": "https://a"}                          metadata @> '{"source":"https://a"}'
//	{"$and": [f1, f2]}, {"$or": [f1, f2]}            conjunction / disjunction
//	{"$not": f}                                      negation
//	{"source": {"$in": ["https://a", "https://b"]}}  any of the values
//
// Keys of one object are joined with AND in sorted order. Placeholders
// continue after the arguments the filter was created with.
type metadataFilter struct {
	args []interface{}
}

func newMetadataFilter(args ...interface{}) *metadataFilter {
	return &metadataFilter{args: args}
}

func (f *metadataFilter) bind(v interface{}) string {
	f.args = append(f.args, v)
	return fmt.Sprintf("$%d", len(f.args))
}

func (f *metadataFilter) build(filter map[string]interface{}) (string, error) {
	if len(filter) == 0 {
		return "TRUE", nil
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conds []string
	for _, key := range keys {
		cond, err := f.condition(key, filter[key])
		if err != nil {
			return "", err
		}
		if cond != "" {
			conds = append(conds, cond)
		}
	}
	if len(conds) == 0 {
		return "TRUE", nil
	}
	return strings.Join(conds, " AND "), nil
}

func (f *metadataFilter) condition(key string, value interface{}) (string, error) {
	switch key {
	case "$and", "$or":
		list, ok := value.([]interface{})
		if !ok {
			return "", fmt.Errorf("value for %s must be a list of conditions", key)
		}
		parts := make([]string, 0, len(list))
		for _, item := range list {
			sub, ok := item.(map[string]interface{})
			if !ok {
				return "", fmt.Errorf("item in %s list must be a JSON object", key)
			}
			q, err := f.build(sub)
			if err != nil {
				return "", err
			}
			parts = append(parts, "("+q+")")
		}
		if len(parts) == 0 {
			return "", nil
		}
		op := " AND "
		if key == "$or" {
			op = " OR "
		}
		return "(" + strings.Join(parts, op) + ")", nil

	case "$not":
		sub, ok := value.(map[string]interface{})
		if !ok {
			return "", fmt.Errorf("value for $not must be a JSON object")
		}
		q, err := f.build(sub)
		if err != nil {
			return "", err
		}
		return "NOT (" + q + ")", nil
	}

	if strings.HasPrefix(key, "$") {
		return "", fmt.Errorf("unknown operator %s", key)
	}

	if op, ok := value.(map[string]interface{}); ok {
		if in, ok := op["$in"]; ok && len(op) == 1 {
			return f.in(key, in)
		}
	}
	return f.contains(key, value)
}

// contains matches documents whose metadata holds key: value.
func (f *metadataFilter) contains(key string, value interface{}) (string, error) {
	data, err := json.Marshal(map[string]interface{}{key: value})
	if err != nil {
		return "", fmt.Errorf("failed to marshal metadata pair: %w", err)
	}
	return "metadata @> " + f.bind(data), nil
}

func (f *metadataFilter) in(key string, values interface{}) (string, error) {
	list, ok := values.([]interface{})
	if !ok {
		return "", fmt.Errorf("value for $in on %s must be a list", key)
	}
	if len(list) == 0 {
		return "FALSE", nil
	}
	parts := make([]string, 0, len(list))
	for _, v := range list {
		c, err := f.contains(key, v)
		if err != nil {
			return "", err
		}
		parts = append(parts, c)
	}
	return "(" + strings.Join(parts, " OR ") + ")", nil
}
