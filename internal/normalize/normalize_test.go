package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPhoneUS(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"ten digits gains country code", "5551234567", "15551234567", false},
		{"formatted", "(555) 123-4567", "15551234567", false},
		{"eleven digits with one", "15551234567", "15551234567", false},
		{"dots and spaces", "555.123.4567", "15551234567", false},
		{"too short", "123", "", true},
		{"eleven digits not starting with one", "25551234567", "", true},
		{"twelve digits", "155512345678", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := PhoneUS(tt.input)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEmail(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"lowercased", "USER@EXAMPLE.COM", "user@example.com", false},
		{"trimmed", "  user@example.com ", "user@example.com", false},
		{"already normal", "user@example.com", "user@example.com", false},
		{"subdomain", "a@b.c.d", "a@b.c.d", false},
		{"no at", "userexample.com", "", true},
		{"two ats", "user@@example.com", "", true},
		{"no dot in domain", "user@example", "", true},
		{"empty local", "@example.com", "", true},
		{"empty domain label", "user@example..com", "", true},
		{"trailing dot", "user@example.com.", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Email(tt.input)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDateAny(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"iso passes through", "2024-01-15", "2024-01-15", false},
		{"us slash", "01/15/2024", "2024-01-15", false},
		{"us slash unpadded", "1/15/2024", "2024-01-15", false},
		{"eu slash", "15/01/2024", "2024-01-15", false},
		{"us dash", "01-15-2024", "2024-01-15", false},
		{"eu dash", "15-01-2024", "2024-01-15", false},
		{"ambiguous resolves US first", "03/04/2024", "2024-03-04", false},
		{"alternative", "2024/01/15", "2024-01-15", false},
		{"named month short", "Jan 15, 2024", "2024-01-15", false},
		{"named month long", "January 15, 2024", "2024-01-15", false},
		{"day first named", "15 Jan 2024", "2024-01-15", false},
		{"compact", "20240115", "2024-01-15", false},
		{"spreadsheet serial", "45306", "2024-01-15", false},
		{"garbage", "not-a-date", "", true},
		{"serial out of range", "100001", "", true},
		{"serial too small", "1", "", true},
		{"empty", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DateAny(tt.input)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBool(t *testing.T) {
	truthy := []string{"true", "t", "yes", "y", "1", "TRUE", "Yes"}
	for _, in := range truthy {
		got, err := Bool(in)
		require.NoError(t, err, in)
		assert.Equal(t, "true", got, in)
	}

	falsy := []string{"false", "f", "no", "n", "0", "FALSE", "No"}
	for _, in := range falsy {
		got, err := Bool(in)
		require.NoError(t, err, in)
		assert.Equal(t, "false", got, in)
	}

	for _, in := range []string{"", "maybe", "2", "yep"} {
		_, err := Bool(in)
		assert.Error(t, err, in)
	}
}

func TestEnum(t *testing.T) {
	inline := map[string]string{"opp": "opportunity", "lead": "lead"}
	synonyms := map[string]string{"won": "stage_won"}
	canonical := map[string]struct{}{"stage_won": {}, "stage_open": {}}

	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"synonym wins", "won", "stage_won", false},
		{"inline key", "opp", "opportunity", false},
		{"inline value passes through", "opportunity", "opportunity", false},
		{"canonical passes through", "stage_open", "stage_open", false},
		{"case sensitive", "WON", "", true},
		{"unknown", "bogus", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Enum(tt.input, inline, synonyms, canonical)
			if tt.wantErr {
				require.Error(t, err)

				var nerr *Error

				require.ErrorAs(t, err, &nerr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// Every normalizer must be a fixed point over its accepted domain: running
// it twice yields the same output as running it once.
func TestIdempotency(t *testing.T) {
	phoneInputs := []string{"5551234567", "(555) 123-4567", "15551234567"}
	for _, in := range phoneInputs {
		once, err := PhoneUS(in)
		require.NoError(t, err)

		twice, err := PhoneUS(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "PhoneUS(%q)", in)
	}

	emailInputs := []string{"USER@EXAMPLE.COM", " a@b.c ", "x@y.zz"}
	for _, in := range emailInputs {
		once, err := Email(in)
		require.NoError(t, err)

		twice, err := Email(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "Email(%q)", in)
	}

	dateInputs := []string{"2024-01-15", "01/15/2024", "15 Jan 2024", "45306"}
	for _, in := range dateInputs {
		once, err := DateAny(in)
		require.NoError(t, err)

		twice, err := DateAny(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "DateAny(%q)", in)
	}

	boolInputs := []string{"yes", "TRUE", "0", "false"}
	for _, in := range boolInputs {
		once, err := Bool(in)
		require.NoError(t, err)

		twice, err := Bool(once)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "Bool(%q)", in)
	}

	inline := map[string]string{"opp": "opportunity"}
	synonyms := map[string]string{"won": "stage_won"}
	canonical := map[string]struct{}{"stage_won": {}}

	for _, in := range []string{"won", "opp", "stage_won"} {
		once, err := Enum(in, inline, synonyms, canonical)
		require.NoError(t, err)

		twice, err := Enum(once, inline, synonyms, canonical)
		require.NoError(t, err)
		assert.Equal(t, once, twice, "Enum(%q)", in)
	}
}
