package settings

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func genSegment() *rapid.Generator[string] {
	return rapid.StringMatching(`[a-z][a-zA-Z0-9]{0,6}`)
}

func genScalar() *rapid.Generator[Value] {
	return rapid.OneOf(
		rapid.Map(rapid.String(), String),
		rapid.Map(rapid.IntRange(-1000, 1000), Int),
		rapid.Map(rapid.Bool(), Bool),
		rapid.Just(Null()),
	)
}

func TestAssignLookup_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		root := EmptyMapping()
		written := map[string]Value{}

		n := rapid.IntRange(1, 20).Draw(t, "writes")
		for i := 0; i < n; i++ {
			segs := rapid.SliceOfN(genSegment(), 1, 4).Draw(t, "segs")
			v := genScalar().Draw(t, "value")
			Assign(root, segs, v)

			key := strings.Join(segs, ".")
			// A write replaces everything at or below key, and any written
			// ancestor of key is no longer a leaf.
			for k := range written {
				if k == key || strings.HasPrefix(k, key+".") || strings.HasPrefix(key, k+".") {
					delete(written, k)
				}
			}
			written[key] = v
		}

		for key, want := range written {
			got, ok := Lookup(root, SplitKey(key))
			if !ok {
				t.Fatalf("key %q missing after assign", key)
			}
			if !got.Equal(want) {
				t.Fatalf("key %q: got %v want %v", key, got, want)
			}
		}
	})
}

func TestAssign_SiblingsUntouched_Property(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		root := Defaults()
		before := root.Clone()

		leaf := rapid.SampledFrom([]string{"model", "sandbox", "approval", "autoApply"}).Draw(t, "leaf")
		Assign(root, []string{"codex", leaf}, genScalar().Draw(t, "value"))

		for _, e := range Flatten(before) {
			if e.Key == "codex."+leaf {
				continue
			}
			got, ok := Lookup(root, SplitKey(e.Key))
			if !ok || !got.Equal(e.Value) {
				t.Fatalf("sibling %q changed: %v -> %v", e.Key, e.Value, got)
			}
		}
	})
}

func TestAssign_ReplacesScalarIntermediate(t *testing.T) {
	root := Mapping(map[string]Value{"a": Int(1)})

	Assign(root, []string{"a", "b"}, String("x"))

	got, ok := Lookup(root, []string{"a", "b"})
	require.True(t, ok)
	assert.Equal(t, "x", got.String())
}

func TestMerge_Deep(t *testing.T) {
	dst := Mapping(map[string]Value{
		"codex": Mapping(map[string]Value{"model": String("o1-mini"), "sandbox": String("read-only")}),
		"theme": String("dark"),
	})
	src := Mapping(map[string]Value{
		"codex": Mapping(map[string]Value{"model": String("gpt-4o")}),
		"extra": Bool(true),
	})

	out := Merge(dst, src)

	assert.Equal(t, `{"codex":{"model":"gpt-4o","sandbox":"read-only"},"extra":true,"theme":"dark"}`, out.String())
	model, _ := Lookup(dst, []string{"codex", "model"})
	assert.Equal(t, "o1-mini", model.String(), "merge must not mutate its inputs")
}

func TestMerge_ScalarReplacesMapping(t *testing.T) {
	dst := Mapping(map[string]Value{"codex": Mapping(map[string]Value{"model": String("o1-mini")})})
	src := Mapping(map[string]Value{"codex": String("off")})

	out := Merge(dst, src)

	v, _ := out.Field("codex")
	assert.Equal(t, KindString, v.Kind())
}

func TestValue_CloneIsDeep(t *testing.T) {
	orig := Mapping(map[string]Value{"list": List(Int(1)), "nested": Mapping(map[string]Value{"k": Bool(true)})})
	clone := orig.Clone()

	Assign(clone, []string{"nested", "k"}, Bool(false))

	k, _ := Lookup(orig, []string{"nested", "k"})
	b, _ := k.AsBool()
	assert.True(t, b)
	assert.False(t, orig.Equal(clone))
}

func TestValue_JSON(t *testing.T) {
	var v Value
	require.NoError(t, json.Unmarshal([]byte(`{"a":[1,2.5,"x",null,false]}`), &v))

	assert.Equal(t, KindMapping, v.Kind())
	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":[1,2.5,"x",null,false]}`, string(out))
}

func TestFromAny_Unsupported(t *testing.T) {
	_, err := FromAny(struct{}{})
	require.Error(t, err)
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		in   string
		kind Kind
		str  string
	}{
		{"14", KindNumber, "14"},
		{"true", KindBool, "true"},
		{"null", KindNull, "null"},
		{`"quoted"`, KindString, "quoted"},
		{"plain text", KindString, "plain text"},
		{`{"a":1}`, KindMapping, `{"a":1}`},
		{"", KindString, ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			v := ParseValue(tt.in)
			assert.Equal(t, tt.kind, v.Kind())
			assert.Equal(t, tt.str, v.String())
		})
	}
}

func TestFlatten(t *testing.T) {
	v := Mapping(map[string]Value{
		"b":     Int(2),
		"a":     Mapping(map[string]Value{"y": Bool(true), "x": String("s")}),
		"empty": EmptyMapping(),
	})

	var keys []string
	for _, e := range Flatten(v) {
		keys = append(keys, e.Key)
	}
	assert.Equal(t, []string{"a.x", "a.y", "b", "empty"}, keys)
}

func TestSplitKey(t *testing.T) {
	assert.Nil(t, SplitKey(""))
	assert.Equal(t, []string{"codex", "sandbox"}, SplitKey("codex.sandbox"))
}
