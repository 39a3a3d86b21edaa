package jsonx

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstArray(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `[{"a":1}]`, `[{"a":1}]`},
		{"fenced", "```json\n[1, 2, 3]\n```", `[1, 2, 3]`},
		{"trailing prose", `here are insights: [{"type":"task_suggestion"}] thanks`, `[{"type":"task_suggestion"}]`},
		{"brackets inside strings", `[{"title":"use ] and [ freely"}] done`, `[{"title":"use ] and [ freely"}]`},
		{"escaped quote", `[{"t":"say \"hi]\""}]`, `[{"t":"say \"hi]\""}]`},
		{"skips non-json bracket", `see [note] then [{"ok":true}]`, `[{"ok":true}]`},
		{"first of two", `[1] and [2]`, `[1]`},
		{"nested", `x [[1,[2]],{"a":[3]}] y`, `[[1,[2]],{"a":[3]}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FirstArray(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFirstArray_Failures(t *testing.T) {
	for _, in := range []string{
		"",
		"no json here at all",
		`[{"a":1}`,
		`[{"a":1,}]`,
		`{"a": 1`,
	} {
		_, err := FirstArray(in)
		assert.ErrorIs(t, err, ErrNoJSON, "input %q", in)
	}
}

func TestFirstObject(t *testing.T) {
	got, err := FirstObject("Sure! ```json\n{\"hours\": 6}\n``` hope that helps")
	require.NoError(t, err)
	assert.Equal(t, `{"hours": 6}`, got)

	_, err = FirstObject(`{"broken": }`)
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestFirst_PicksEarliest(t *testing.T) {
	got, err := First(`{"a":[1]} [2]`)
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1]}`, got)

	got, err = First(`[2] {"a":1}`)
	require.NoError(t, err)
	assert.Equal(t, `[2]`, got)
}

func TestFirstNumber(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"6", 6},
		{"I'd wait 6 hours", 6},
		{"Check back in 3.", 3},
		{"about 2.5 hours", 2.5},
		{"model v2 suggests 8", 8},
		{"-1 would be wrong", -1},
	}
	for _, tt := range tests {
		got, err := FirstNumber(tt.in)
		require.NoError(t, err, "input %q", tt.in)
		assert.Equal(t, tt.want, got, "input %q", tt.in)
	}

	for _, in := range []string{"", "a few hours", "6h", "well-known"} {
		_, err := FirstNumber(in)
		assert.ErrorIs(t, err, ErrNoJSON, "input %q", in)
	}
}
