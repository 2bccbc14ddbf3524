// Package transform provides the mapping-time transform catalog: named,
// parameterized cleaning functions applied to mapped columns before
// validation. Transforms are selected by name from confirmed mappings;
// there is no user-supplied code path, only this pre-compiled registry.
package transform

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/migrator-io/migrator/internal/normalize"
)

// Sentinel errors for catalog lookups and transform failures. Callers
// degrade a failed transform to the original value; these errors exist for
// logging, not control flow across the pipeline.
var (
	ErrUnknownTransform = errors.New("unknown transform")
	ErrBadParams        = errors.New("invalid transform params")
)

// Func is a single transform: value in, params from the mapping, value out.
type Func func(value string, params map[string]string) (string, error)

// Catalog maps transform names to implementations.
type Catalog struct {
	fns map[string]Func
}

var titleCaser = cases.Title(language.Und)

// NewCatalog builds the default catalog with every built-in transform.
func NewCatalog() *Catalog {
	c := &Catalog{fns: make(map[string]Func)}

	c.register("trim", func(v string, _ map[string]string) (string, error) {
		return strings.TrimSpace(v), nil
	})
	c.register("lower", func(v string, _ map[string]string) (string, error) {
		return strings.ToLower(v), nil
	})
	c.register("upper", func(v string, _ map[string]string) (string, error) {
		return strings.ToUpper(v), nil
	})
	c.register("titlecase", func(v string, _ map[string]string) (string, error) {
		return titleCaser.String(v), nil
	})
	c.register("phone_normalize", func(v string, _ map[string]string) (string, error) {
		return normalize.PhoneUS(v)
	})
	c.register("email_normalize", func(v string, _ map[string]string) (string, error) {
		return normalize.Email(v)
	})
	c.register("parse_date", func(v string, _ map[string]string) (string, error) {
		return normalize.DateAny(v)
	})
	c.register("parse_bool", func(v string, _ map[string]string) (string, error) {
		return normalize.Bool(v)
	})
	c.register("currency_to_float", currencyToFloat)
	c.register("split", split)
	c.register("map", mapValues)
	c.register("default_if_empty", defaultIfEmpty)
	c.register("add_prefix", addPrefix)
	c.register("add_suffix", addSuffix)
	c.register("round", roundTo)
	c.register("replace", replace)
	c.register("regex_extract", regexExtract)

	return c
}

func (c *Catalog) register(name string, fn Func) {
	c.fns[name] = fn
}

// Names returns the registered transform names, unordered.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.fns))
	for name := range c.fns {
		names = append(names, name)
	}

	return names
}

// Has reports whether a transform is registered.
func (c *Catalog) Has(name string) bool {
	_, ok := c.fns[name]

	return ok
}

// Apply runs a named transform. Unknown names and transform failures return
// an error; the caller decides whether to degrade to the original value.
func (c *Catalog) Apply(name, value string, params map[string]string) (string, error) {
	fn, ok := c.fns[name]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTransform, name)
	}

	return fn(value, params)
}

var currencyJunk = regexp.MustCompile(`[$€£,\s]`)

// currencyToFloat strips currency symbols, separators, and whitespace and
// reformats the remainder as a plain decimal number.
func currencyToFloat(v string, _ map[string]string) (string, error) {
	cleaned := currencyJunk.ReplaceAllString(v, "")
	if cleaned == "" {
		return "", fmt.Errorf("%w: %q is not a number", ErrBadParams, v)
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a number", ErrBadParams, v)
	}

	return strconv.FormatFloat(f, 'f', -1, 64), nil
}

// split cuts the value on params["sep"] (default whitespace) and returns
// the part at params["index"].
func split(v string, params map[string]string) (string, error) {
	sep := params["sep"]

	var parts []string
	if sep == "" {
		parts = strings.Fields(v)
	} else {
		parts = strings.Split(v, sep)
	}

	index, err := strconv.Atoi(params["index"])
	if err != nil {
		return "", fmt.Errorf("%w: split needs a numeric index", ErrBadParams)
	}

	if index < 0 || index >= len(parts) {
		return "", fmt.Errorf("%w: split index %d out of range (%d parts)", ErrBadParams, index, len(parts))
	}

	return parts[index], nil
}

// mapValues looks the value up in the params table.
func mapValues(v string, params map[string]string) (string, error) {
	if mapped, ok := params[v]; ok {
		return mapped, nil
	}

	return "", fmt.Errorf("%w: %q has no mapping", ErrBadParams, v)
}

func defaultIfEmpty(v string, params map[string]string) (string, error) {
	if strings.TrimSpace(v) == "" {
		return params["value"], nil
	}

	return v, nil
}

func addPrefix(v string, params map[string]string) (string, error) {
	return params["prefix"] + v, nil
}

func addSuffix(v string, params map[string]string) (string, error) {
	return v + params["suffix"], nil
}

// roundTo rounds a numeric value to params["digits"] decimal places
// (default 2).
func roundTo(v string, params map[string]string) (string, error) {
	digits := 2
	if d, err := strconv.Atoi(params["digits"]); err == nil {
		digits = d
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a number", ErrBadParams, v)
	}

	return strconv.FormatFloat(f, 'f', digits, 64), nil
}

func replace(v string, params map[string]string) (string, error) {
	return strings.ReplaceAll(v, params["old"], params["new"]), nil
}

// regexExtract returns the capture group params["group"] (default 0, the
// whole match) of params["pattern"].
func regexExtract(v string, params map[string]string) (string, error) {
	pattern, ok := params["pattern"]
	if !ok {
		return "", fmt.Errorf("%w: regex_extract needs a pattern", ErrBadParams)
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return "", fmt.Errorf("%w: bad pattern: %v", ErrBadParams, err)
	}

	group := 0
	if g, err := strconv.Atoi(params["group"]); err == nil {
		group = g
	}

	match := re.FindStringSubmatch(v)
	if match == nil || group >= len(match) {
		return "", fmt.Errorf("%w: no match for pattern %q", ErrBadParams, pattern)
	}

	return match[group], nil
}
