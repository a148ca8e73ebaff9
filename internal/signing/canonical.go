package signing

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

var (
	ErrEmptyParams  = errors.New("signing: empty parameter set")
	ErrMissingParam = errors.New("signing: missing parameter")
)

// Params is the flat key/value set a gateway returns on redirect or IPN.
// Values are expected to be URL-decoded already.
type Params map[string]string

// Without returns a copy of p with the given keys removed.
func (p Params) Without(keys ...string) Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// FromValues flattens url.Values, keeping the first value of each key.
func FromValues(v url.Values) Params {
	out := make(Params, len(v))
	for k, vals := range v {
		if len(vals) > 0 {
			out[k] = vals[0]
		} else {
			out[k] = ""
		}
	}
	return out
}

// escaper turns url.QueryEscape output into encodeURIComponent output with
// spaces as '+', which is what the gateway signs over.
var escaper = strings.NewReplacer(
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// Escape encodes a key or value for canonicalization.
func Escape(s string) string {
	return escaper.Replace(url.QueryEscape(s))
}

// SortedQuery canonicalizes by sorting encoded keys and joining
// enc(key)=enc(value) pairs with '&'. Empty values are kept.
type SortedQuery struct {
	// Required keys must be present, even if empty.
	Required []string
}

func (s SortedQuery) Canonicalize(p Params) (string, error) {
	if len(p) == 0 {
		return "", ErrEmptyParams
	}
	for _, k := range s.Required {
		if _, ok := p[k]; !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingParam, k)
		}
	}

	type pair struct{ key, value string }
	pairs := make([]pair, 0, len(p))
	for k, v := range p {
		pairs = append(pairs, pair{key: Escape(k), value: Escape(v)})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].key < pairs[j].key })

	var b strings.Builder
	for i, kv := range pairs {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(kv.key)
		b.WriteByte('=')
		b.WriteString(kv.value)
	}
	return b.String(), nil
}

// Template canonicalizes a fixed, ordered field list as raw k=v pairs.
// Fixed supplies values that do not travel with the callback (e.g. accessKey).
type Template struct {
	Fields []string
	Fixed  map[string]string
}

func (t Template) Canonicalize(p Params) (string, error) {
	if len(p) == 0 {
		return "", ErrEmptyParams
	}
	var b strings.Builder
	for i, field := range t.Fields {
		v, ok := t.Fixed[field]
		if !ok {
			v, ok = p[field]
		}
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrMissingParam, field)
		}
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(field)
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String(), nil
}
