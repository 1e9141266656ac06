package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/uimatrix/internal/errs"
)

func testLabel_JoinsValuesInOrder(t *rapid.T) {
	n := rapid.IntRange(1, 5).Draw(t, "n")
	names := rapid.SliceOfNDistinct(rapid.StringMatching(`[A-Z][A-Z_]{0,15}`), n, n, rapid.ID[string]).Draw(t, "names")
	fields := make([]Field, n)
	want := make([]string, n)
	for i, name := range names {
		v := rapid.IntRange(0, 99).Draw(t, fmt.Sprintf("v%d", i))
		fields[i] = Field{Name: name, Value: v}
		want[i] = fmt.Sprint(v)
	}

	sc, err := New(fields...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := sc.Label(); got != strings.Join(want, ", ") {
		t.Fatalf("Label() = %q, want %q", got, strings.Join(want, ", "))
	}
	for i, f := range sc.Fields() {
		if f.Name != names[i] {
			t.Fatalf("field %d = %q, want %q", i, f.Name, names[i])
		}
	}
}

func TestLabel_JoinsValuesInOrder(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testLabel_JoinsValuesInOrder)
}

func TestLabel_EmptyStringVisible(t *testing.T) {
	t.Parallel()

	sc := MustNew(Field{Name: "ID_OPERACION", Value: ""}, Field{Name: "ES_BOVEDA", Value: "S"})
	require.Equal(t, `"", S`, sc.Label())
}

func TestNew_Rejections(t *testing.T) {
	t.Parallel()

	cases := map[string][]Field{
		"empty name":    {{Name: " ", Value: 1}},
		"duplicate":     {{Name: "A", Value: 1}, {Name: "A", Value: 2}},
		"non-primitive": {{Name: "A", Value: []int{1}}},
		"map value":     {{Name: "A", Value: map[string]any{}}},
	}
	for name, fields := range cases {
		_, err := New(fields...)
		if !errs.Is(err, errs.InvalidArgument) {
			t.Fatalf("%s: expected invalid_argument, got %v", name, err)
		}
	}
}

func TestScenario_Accessors(t *testing.T) {
	t.Parallel()

	sc := MustNew(Field{Name: "ID_OPERACION", Value: 4}, Field{Name: "ES_BOVEDA", Value: "N"})

	v, ok := sc.Get("ID_OPERACION")
	require.True(t, ok)
	require.Equal(t, 4, v)
	require.True(t, sc.Is("ID_OPERACION", "4"))
	require.True(t, sc.Is("ID_OPERACION", 4))
	require.False(t, sc.Is("ID_OPERACION", 8))
	require.False(t, sc.Is("MISSING", ""))
	require.Equal(t, "N", sc.String("ES_BOVEDA"))
	require.Equal(t, "", sc.String("MISSING"))
	require.Equal(t, map[string]any{"ID_OPERACION": 4, "ES_BOVEDA": "N"}, sc.Map())

	fields := sc.Fields()
	fields[0].Value = 99
	require.True(t, sc.Is("ID_OPERACION", 4), "Fields() must return a copy")

	m := sc.Map()
	m["ID_OPERACION"] = 99
	require.True(t, sc.Is("ID_OPERACION", 4), "Map() must return a copy")
}

func TestScenario_Equal(t *testing.T) {
	t.Parallel()

	a := MustNew(Field{Name: "A", Value: 1}, Field{Name: "B", Value: "x"})
	b := MustNew(Field{Name: "A", Value: 1}, Field{Name: "B", Value: "x"})
	c := MustNew(Field{Name: "B", Value: "x"}, Field{Name: "A", Value: 1})
	require.True(t, a.Equal(b))
	require.False(t, a.Equal(c))
	require.False(t, a.Equal(Of("A", 1)))
}

func TestMatrix_ValidateDuplicateLabels(t *testing.T) {
	t.Parallel()

	m := Matrix{Of("ID_OPERACION", 4), Of("ID_OPERACION", "4")}
	require.True(t, errs.Is(m.Validate(), errs.InvalidArgument))
	require.NoError(t, Matrix{}.Validate())
	require.Empty(t, Matrix{}.Labels())
}

func TestParseMatrix_PreservesKeyOrder(t *testing.T) {
	t.Parallel()

	m, err := ParseMatrix([]byte(`
- ID_OPERACION: 4
  ES_BOVEDA: "S"
- ID_OPERACION: ''
  ES_BOVEDA: "N"
- ES_BOVEDA: "N"
  ID_OPERACION: 8
`))
	require.NoError(t, err)
	require.Equal(t, []string{"4, S", `"", N`, "N, 8"}, m.Labels())

	v, _ := m[0].Get("ID_OPERACION")
	require.Equal(t, 4, v)
}

func TestParseMatrix_EmptyDocument(t *testing.T) {
	t.Parallel()

	for _, doc := range []string{"", "  \n", "~", "[]"} {
		m, err := ParseMatrix([]byte(doc))
		require.NoError(t, err, "doc %q", doc)
		require.Len(t, m, 0, "doc %q", doc)
	}
}

func TestParseMatrix_RejectsNesting(t *testing.T) {
	t.Parallel()

	cases := []string{
		"ID_OPERACION: 4",
		"- [1, 2]",
		"- ID_OPERACION: {nested: true}",
		"- A: 1\n- A: 1",
		"- : [",
	}
	for _, doc := range cases {
		_, err := ParseMatrix([]byte(doc))
		require.Error(t, err, "doc %q", doc)
	}
}

func TestLoadMatrix(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "permisos.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- ID_OPERACION: 4\n- ID_OPERACION: 8\n"), 0o600))

	m, err := LoadMatrix(path)
	require.NoError(t, err)
	require.Equal(t, []string{"4", "8"}, m.Labels())

	_, err = LoadMatrix(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
