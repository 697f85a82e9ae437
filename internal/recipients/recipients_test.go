package recipients

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBook = `{
  "clients": [
    "ana@example.com",
    {"email": "bruno@example.com", "name": "Bruno"},
    {"email": "carla@example.com"}
  ],
  "internal": [
    {"email": "ana@example.com", "name": "Ana"}
  ]
}`

func TestParse_KeepsGroupOrder(t *testing.T) {
	t.Parallel()

	book, err := Parse([]byte(`{"zeta": [], "alpha": [], "mid": []}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, book.Names())
}

func TestParse_EntryShapes(t *testing.T) {
	t.Parallel()

	book, err := Parse([]byte(`{"g": [
  "plain@example.com",
  {"email": "rec@example.com", "name": "Rec"},
  {"name": "No Email"},
  {"email": 42, "name": ["x"]},
  42,
  null,
  true,
  ["nested@example.com"]
]}`))
	require.NoError(t, err)

	g, ok := book.Lookup("g")
	require.True(t, ok)
	assert.Equal(t, []Entry{
		{Kind: KindAddress, Email: "plain@example.com"},
		{Kind: KindRecord, Email: "rec@example.com", Name: "Rec"},
		{Kind: KindRecord, Name: "No Email"},
		{Kind: KindRecord},
		{Kind: KindUnknown},
		{Kind: KindUnknown},
		{Kind: KindUnknown},
		{Kind: KindUnknown},
	}, g.Entries)
}

func TestParse_DuplicateGroupKeepsFirstPositionLastValue(t *testing.T) {
	t.Parallel()

	book, err := Parse([]byte(`{"a": ["one@example.com"], "b": [], "a": ["two@example.com"]}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, book.Names())
	g, _ := book.Lookup("a")
	assert.Equal(t, []Entry{{Kind: KindAddress, Email: "two@example.com"}}, g.Entries)
}

func TestParse_JSONEscapes(t *testing.T) {
	t.Parallel()

	book, err := Parse([]byte("\xef\xbb\xbf" + `{"team\/ops": [{"email": "ana\u0040example.com", "name": "A\/B"}]}`))
	require.NoError(t, err)

	g, ok := book.Lookup("team/ops")
	require.True(t, ok)
	assert.Equal(t, []Entry{{Kind: KindRecord, Email: "ana@example.com", Name: "A/B"}}, g.Entries)
}

func TestParse_SyntaxErrors(t *testing.T) {
	t.Parallel()

	for _, content := range []string{`{"a": [}`, `{"a": []} {"b": []}`, "clients:\n  - a@example.com\n"} {
		_, err := Parse([]byte(content))
		require.Error(t, err, content)
	}
}

func TestParse_InvalidShape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
	}{
		{name: "top-level list", content: `["a@example.com"]`},
		{name: "top-level string", content: `"a@example.com"`},
		{name: "group not a list", content: `{"clients": "a@example.com"}`},
		{name: "group is an object", content: `{"clients": {"email": "a@example.com"}}`},
		{name: "empty document", content: ``},
		{name: "null document", content: `null`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.content))
			require.ErrorIs(t, err, ErrInvalidShape)
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "recipients.json")
	require.NoError(t, os.WriteFile(path, []byte(sampleBook), 0o644))

	book, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"clients", "internal"}, book.Names())

	_, err = LoadFromFile(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	entries := []Entry{
		{Kind: KindAddress, Email: "ok@example.com"},
		{Kind: KindRecord, Email: "named@example.com", Name: "Named"},
		{Kind: KindRecord, Name: "No Email"},
		{Kind: KindUnknown, Email: "shape@example.com"},
		{Kind: KindAddress, Email: "no-at-sign.example.com"},
		{Kind: KindAddress, Email: "nodot@example"},
		{Kind: KindAddress, Email: "two@@example.com"},
		{Kind: KindAddress, Email: "a b@example.com"},
		{Kind: KindAddress, Email: ""},
		{Kind: KindAddress, Email: "ok@example.com"},
	}

	got := Normalize(entries)
	assert.Equal(t, []Recipient{
		{Email: "ok@example.com"},
		{Email: "named@example.com", Name: "Named"},
		{Email: "ok@example.com"},
	}, got)
}

func TestNormalize_Idempotent(t *testing.T) {
	t.Parallel()

	book, err := Parse([]byte(sampleBook))
	require.NoError(t, err)

	once := Normalize(book.All())
	twice := Normalize(Entries(once))
	assert.Equal(t, once, twice)
}

func TestNormalize_Empty(t *testing.T) {
	t.Parallel()

	assert.Empty(t, Normalize(nil))
}

func TestSelect(t *testing.T) {
	t.Parallel()

	book, err := Parse([]byte(sampleBook))
	require.NoError(t, err)

	t.Run("single group", func(t *testing.T) {
		t.Parallel()
		got := book.Select("internal", false)
		assert.Equal(t, []Recipient{{Email: "ana@example.com", Name: "Ana"}}, got)
	})

	t.Run("all groups concatenates without dedup", func(t *testing.T) {
		t.Parallel()
		got := book.Select("", true)
		assert.Equal(t, []Recipient{
			{Email: "ana@example.com"},
			{Email: "bruno@example.com", Name: "Bruno"},
			{Email: "carla@example.com"},
			{Email: "ana@example.com", Name: "Ana"},
		}, got)
	})

	t.Run("unknown group", func(t *testing.T) {
		t.Parallel()
		assert.Empty(t, book.Select("nobody", false))
	})
}

func TestValidEmail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		addr string
		want bool
	}{
		{addr: "user@example.com", want: true},
		{addr: "first.last+tag@sub.example.co", want: true},
		{addr: "user@localhost", want: false},
		{addr: "@example.com", want: false},
		{addr: "user@.com", want: false},
		{addr: "user@example.", want: false},
		{addr: "us er@example.com", want: false},
		{addr: "user@exa\tmple.com", want: false},
		{addr: "a@b@c.com", want: false},
		{addr: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ValidEmail(tt.addr))
		})
	}
}
