package dom

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimplify(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "drops scripts and styles",
			in:   `<html><head><script>alert(1)</script><style>p{}</style></head><body><p>hello</p></body></html>`,
			want: `<html><head></head><body><p>hello </p></body></html>`,
		},
		{
			name: "keeps allowed attributes only",
			in:   `<html><head></head><body><a href="/x" onclick="evil()" data-test="y">link</a></body></html>`,
			want: `<html><head></head><body><a href="/x">link </a></body></html>`,
		},
		{
			name: "unwraps unknown elements",
			in:   `<html><head></head><body><section><p>inside</p></section></body></html>`,
			want: `<html><head></head><body><p>inside </p></body></html>`,
		},
		{
			name: "void elements have no closing tag",
			in:   `<html><head></head><body><input type="text" value="">after</body></html>`,
			want: `<html><head></head><body><input type="text" value="">after </body></html>`,
		},
		{
			name: "comments and blank text vanish",
			in:   "<html><head></head><body><!-- hidden -->   <p>kept</p></body></html>",
			want: `<html><head></head><body><p>kept </p></body></html>`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Simplify(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSimplifyEscapesText(t *testing.T) {
	got, err := Simplify(`<html><head></head><body><p>a &lt; b</p></body></html>`)
	require.NoError(t, err)
	assert.Contains(t, got, "a &lt; b")
}
