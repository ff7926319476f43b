package recipients

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"campaignbot/internal/transport"
)

func ids(s ...string) []transport.RecipientID {
	out := make([]transport.RecipientID, len(s))
	for i, v := range s {
		out[i] = transport.RecipientID(v)
	}
	return out
}

func TestParseFormats(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		ext  string
		in   string
		want []transport.RecipientID
	}{
		{name: "contacts object", ext: ".json", in: `{"contacts":["212600000001"," 212600000002 ","212600000001",""]}`, want: ids("212600000001", "212600000002")},
		{name: "bare array with numbers", ext: ".json", in: `[212600000003, "@alice"]`, want: ids("212600000003", "@alice")},
		{name: "empty contacts", ext: ".json", in: `{"contacts":[]}`, want: ids()},
		{name: "yaml object", ext: ".yaml", in: "contacts:\n  - \"@bob\"\n  - 12345\n", want: ids("@bob", "12345")},
		{name: "yaml list", ext: ".yml", in: "- a\n- b\n- a\n", want: ids("a", "b")},
		{name: "yaml numbers as written", ext: ".yaml", in: "contacts:\n - +212600000001\n - 0612\n - 0612345678\n - 1_000\n - 0x1F\n", want: ids("+212600000001", "0612", "0612345678", "1_000", "0x1F")},
		{name: "yaml null entries", ext: ".yaml", in: "contacts:\n - ~\n - a\n -\n", want: ids("a")},
		{name: "yaml null contacts", ext: ".yaml", in: "contacts:\n", want: nil},
		{name: "json number literal", ext: ".json", in: `[212600000004, 1e3]`, want: ids("212600000004", "1e3")},
		{name: "inner text untouched", ext: ".txt", in: "  +212 600 000 005  \n", want: ids("+212 600 000 005")},
		{name: "text lines", ext: ".txt", in: "# header\na\n\n b # inline\na\nc\n", want: ids("a", "b", "c")},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse(tt.ext, []byte(tt.in))
			if err != nil {
				t.Fatalf("Parse: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Fatalf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseRejectsBadShapes(t *testing.T) {
	t.Parallel()
	for _, in := range []string{`{"people":[]}`, `{"contacts":"a"}`, `"just a string"`, `[{"n":1}]`, `{`} {
		if _, err := Parse(".json", []byte(in)); err == nil {
			t.Fatalf("Parse(%s) succeeded", in)
		}
	}
	for _, in := range []string{"people: []\n", "contacts: a\n", "just a string\n", "- {n: 1}\n", "- [\n"} {
		if _, err := Parse(".yaml", []byte(in)); err == nil {
			t.Fatalf("Parse(%q) succeeded", in)
		}
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "contacts.json"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("err = %v, want fs.ErrNotExist", err)
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()
	p := filepath.Join(t.TempDir(), "contacts.json")
	if err := os.WriteFile(p, []byte(`{"contacts":["x","y"]}`), 0o600); err != nil {
		t.Fatal(err)
	}
	got, err := Load(p)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(ids("x", "y"), got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}
