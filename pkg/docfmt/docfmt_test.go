package docfmt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string         `json:"name"`
	Count int            `json:"count"`
	Tags  []string       `json:"tags"`
	Index map[string]int `json:"index"`
}

func TestDecodeFormats(t *testing.T) {
	want := sample{Name: "a", Count: 2, Tags: []string{"x", "y"}, Index: map[string]int{"7": 1}}
	cases := []struct {
		path string
		data string
		fmt  Format
	}{
		{"c.json", `{"name":"a","count":2,"tags":["x","y"],"index":{"7":1}}`, JSON},
		{"c.yaml", "name: a\ncount: 2\ntags: [x, y]\nindex:\n  7: 1\n", YAML},
		{"c.YML", "name: a\ncount: 2\ntags: [x, y]\nindex:\n  \"7\": 1\n", YAML},
		{"c.toml", "name = \"a\"\ncount = 2\ntags = [\"x\", \"y\"]\n[index]\n7 = 1\n", TOML},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			var got sample
			f, err := Decode(tc.path, []byte(tc.data), &got)
			require.NoError(t, err)
			assert.Equal(t, tc.fmt, f)
			assert.Equal(t, want, got)
		})
	}
}

func TestDecodeRejectsUnknownFields(t *testing.T) {
	var s sample
	_, err := Decode("c.yaml", []byte("name: a\nextra: 1\n"), &s)
	assert.Error(t, err)
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	for _, tc := range []struct {
		path string
		data string
	}{
		{"c.json", `{"name":"a"}{"name":"b"}`},
		{"c.json", `{"name":"a"} 42`},
		{"c.json", `{"name":"a"} }`},
		{"c.yaml", "name: a\n---\nname: b\n"},
		{"c.yml", "name: a\n---\n- 1\n"},
	} {
		var s sample
		_, err := Decode(tc.path, []byte(tc.data), &s)
		assert.ErrorIs(t, err, ErrTrailingData, "%s %q", tc.path, tc.data)
	}
}

func TestDecodeAcceptsSingleDocuments(t *testing.T) {
	var s sample
	_, err := Decode("c.yaml", []byte("---\nname: a\n"), &s)
	require.NoError(t, err)
	assert.Equal(t, "a", s.Name)

	var empty sample
	_, err = Decode("c.yaml", nil, &empty)
	require.NoError(t, err)
	assert.Equal(t, sample{}, empty)

	_, err = Decode("c.json", []byte("{\"name\":\"b\"}\n\n"), &s)
	require.NoError(t, err)
	assert.Equal(t, "b", s.Name)
}

func TestDecodeReportsSyntaxErrors(t *testing.T) {
	var s sample
	_, err := Decode("c.toml", []byte("name = "), &s)
	assert.ErrorContains(t, err, "toml unmarshal")
}
