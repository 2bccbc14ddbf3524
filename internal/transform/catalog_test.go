package transform

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogCoversContract(t *testing.T) {
	c := NewCatalog()

	// The minimum set the export pipeline requires from the catalog.
	required := []string{
		"trim", "lower", "upper", "titlecase", "phone_normalize",
		"email_normalize", "currency_to_float", "split", "map",
		"default_if_empty", "add_prefix", "add_suffix", "parse_date",
		"parse_bool", "round", "replace", "regex_extract",
	}

	for _, name := range required {
		assert.True(t, c.Has(name), name)
	}
}

func TestApply(t *testing.T) {
	c := NewCatalog()

	tests := []struct {
		name    string
		fn      string
		value   string
		params  map[string]string
		want    string
		wantErr bool
	}{
		{"trim", "trim", "  hi  ", nil, "hi", false},
		{"lower", "lower", "ABC", nil, "abc", false},
		{"upper", "upper", "abc", nil, "ABC", false},
		{"titlecase", "titlecase", "jane van doe", nil, "Jane Van Doe", false},
		{"phone", "phone_normalize", "(555) 123-4567", nil, "15551234567", false},
		{"phone bad", "phone_normalize", "123", nil, "", true},
		{"email", "email_normalize", " USER@EXAMPLE.COM ", nil, "user@example.com", false},
		{"date", "parse_date", "01/15/2024", nil, "2024-01-15", false},
		{"bool", "parse_bool", "Yes", nil, "true", false},
		{"currency", "currency_to_float", "$1,234.50", nil, "1234.5", false},
		{"currency euro", "currency_to_float", "€99", nil, "99", false},
		{"currency bad", "currency_to_float", "free", nil, "", true},
		{"split by sep", "split", "Doe;Jane", map[string]string{"sep": ";", "index": "1"}, "Jane", false},
		{"split fields", "split", "Jane Doe", map[string]string{"index": "0"}, "Jane", false},
		{"split out of range", "split", "solo", map[string]string{"index": "3"}, "", true},
		{"map hit", "map", "NY", map[string]string{"NY": "New York"}, "New York", false},
		{"map miss", "map", "ZZ", map[string]string{"NY": "New York"}, "", true},
		{"default if empty", "default_if_empty", "  ", map[string]string{"value": "n/a"}, "n/a", false},
		{"default keeps value", "default_if_empty", "set", map[string]string{"value": "n/a"}, "set", false},
		{"prefix", "add_prefix", "42", map[string]string{"prefix": "SO-"}, "SO-42", false},
		{"suffix", "add_suffix", "42", map[string]string{"suffix": "-US"}, "42-US", false},
		{"round default", "round", "3.14159", nil, "3.14", false},
		{"round digits", "round", "3.14159", map[string]string{"digits": "3"}, "3.142", false},
		{"round bad", "round", "pi", nil, "", true},
		{"replace", "replace", "a-b-c", map[string]string{"old": "-", "new": "_"}, "a_b_c", false},
		{"regex extract", "regex_extract", "order SO-42 shipped", map[string]string{"pattern": `SO-(\d+)`, "group": "1"}, "42", false},
		{"regex no match", "regex_extract", "nothing", map[string]string{"pattern": `\d+`}, "", true},
		{"unknown transform", "nope", "x", nil, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Apply(tt.fn, tt.value, tt.params)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUnknownTransformError(t *testing.T) {
	c := NewCatalog()

	_, err := c.Apply("bogus", "x", nil)
	assert.ErrorIs(t, err, ErrUnknownTransform)
}
