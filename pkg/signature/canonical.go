package signature

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// Params maps parameter names to their (single) values
type Params map[string]string

// ErrRepeatedParam is returned when a parameter carries more than one value.
// Only one value per key is signed, so extra values would reach the upstream
// unsigned.
var ErrRepeatedParam = errors.New("repeated parameter")

// ParseQuery parses a raw query string into Params. Malformed pairs and
// repeated keys are errors.
func ParseQuery(rawQuery string) (Params, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("malformed query: %w", err)
	}
	return SingleValued(values)
}

// SingleValued flattens url.Values, failing on any key with more than one value
func SingleValued(values url.Values) (Params, error) {
	for k, v := range values {
		if len(v) > 1 {
			return nil, fmt.Errorf("%w: %q", ErrRepeatedParam, k)
		}
	}
	return ParamsFromValues(values), nil
}

// ParamsFromValues flattens url.Values, keeping the first value of each key
func ParamsFromValues(values url.Values) Params {
	params := make(Params, len(values))
	for k, v := range values {
		if len(v) == 0 {
			params[k] = ""
			continue
		}
		params[k] = v[0]
	}
	return params
}

// Canonicalize renders params as key||value pairs in lexicographic key
// order with no separator. Keys in exclude are skipped.
func Canonicalize(params Params, exclude map[string]struct{}) string {
	keys := make([]string, 0, len(params))
	size := 0
	for k, v := range params {
		if _, skip := exclude[k]; skip {
			continue
		}
		keys = append(keys, k)
		size += len(k) + len(v)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.Grow(size)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params[k])
	}
	return b.String()
}
