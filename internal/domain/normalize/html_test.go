package normalize

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain text", input: "  Population by commune  ", want: "Population by commune"},
		{name: "paragraphs", input: "<p>First line</p><p>Second <b>bold</b> line</p>", want: "First line\nSecond bold line"},
		{name: "line breaks", input: "a<br>b<br/>c", want: "a\nb\nc"},
		{name: "script removed", input: "<p>ok</p><script>alert(1)</script>", want: "ok"},
		{name: "list", input: "<ul><li>one</li><li>two</li></ul>", want: "one\ntwo"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripHTML(tt.input))
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		input string
		want  time.Time
	}{
		{input: "2024-05-01T10:20:30Z", want: time.Date(2024, 5, 1, 10, 20, 30, 0, time.UTC)},
		{input: "2024-05-01T10:20:30.123456", want: time.Date(2024, 5, 1, 10, 20, 30, 123456000, time.UTC)},
		{input: "2024-05-01", want: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
		{input: "Wed, 05/01/2024 - 10:20", want: time.Date(2024, 5, 1, 10, 20, 0, 0, time.UTC)},
	}

	for _, tt := range tests {
		got := ParseDate(tt.input)
		require.NotNil(t, got, tt.input)
		assert.True(t, tt.want.Equal(*got), "%s: got %v", tt.input, got)
	}

	assert.Nil(t, ParseDate(""))
	assert.Nil(t, ParseDate("last tuesday"))
}
