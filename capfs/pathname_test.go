package capfs

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSplitPath(t *testing.T) {
	tests := []struct {
		name string
		path string
		want []string
	}{
		{name: "empty", path: "", want: nil},
		{name: "dot", path: ".", want: nil},
		{name: "root", path: "/", want: nil},
		{name: "relative", path: "a/b/c", want: []string{"a", "b", "c"}},
		{name: "absolute looking", path: "/tmp/out.txt", want: []string{"tmp", "out.txt"}},
		{name: "dot segments dropped", path: "./a/./b", want: []string{"a", "b"}},
		{name: "repeated separators", path: "a//b///c", want: []string{"a", "b", "c"}},
		{name: "trailing separator", path: "a/b/", want: []string{"a", "b"}},
		{name: "parent refs kept", path: "../a/..", want: []string{"..", "a", ".."}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := splitPath(tt.path)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("splitPath(%q) mismatch (-want +got):\n%s", tt.path, diff)
			}
		})
	}
}

func TestSplitPath_EmbeddedNUL(t *testing.T) {
	_, err := splitPath("a/b\x00c")
	if err == nil {
		t.Fatal("expected error for embedded NUL")
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []string
		want []string
	}{
		{name: "empty", in: nil, want: []string{}},
		{name: "plain", in: []string{"a", "b"}, want: []string{"a", "b"}},
		{name: "pop within depth", in: []string{"a", "..", "b"}, want: []string{"b"}},
		{name: "pop to empty", in: []string{"a", ".."}, want: []string{}},
		{name: "leading parent kept", in: []string{"..", "etc"}, want: []string{"..", "etc"}},
		{name: "escape after pop kept", in: []string{"a", "..", "..", "x"}, want: []string{"..", "x"}},
		{name: "deep pops", in: []string{"a", "b", "c", "..", ".."}, want: []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := normalize(tt.in)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("normalize(%v) mismatch (-want +got):\n%s", tt.in, diff)
			}
		})
	}
}

func TestTargetEscapes(t *testing.T) {
	tests := []struct {
		name    string
		rel     string
		target  string
		escapes bool
	}{
		{name: "plain child", rel: "top", target: "child", escapes: false},
		{name: "parent ref at root", rel: "top", target: "..", escapes: true},
		{name: "parent ref one level down", rel: "sub/up", target: "..", escapes: false},
		{name: "two parent refs one level down", rel: "sub/up", target: "../..", escapes: true},
		{name: "sibling via parent ref", rel: "sub/up", target: "../sibling/file", escapes: false},
		{name: "pops balance deep", rel: "a/b/c", target: "../../x", escapes: false},
		{name: "absolute", rel: "top", target: "/etc/passwd", escapes: true},
		{name: "descend then ascend", rel: "top", target: "d/../../x", escapes: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			esc, _ := targetEscapes(tt.rel, tt.target)
			if esc != tt.escapes {
				t.Errorf("targetEscapes(%q, %q) = %v, want %v", tt.rel, tt.target, esc, tt.escapes)
			}
		})
	}
}

func TestJoinRel(t *testing.T) {
	if got := joinRel(nil); got != "." {
		t.Errorf("joinRel(nil) = %q, want %q", got, ".")
	}
	if got := joinRel([]string{"a", "b"}); got != "a/b" {
		t.Errorf("joinRel = %q, want %q", got, "a/b")
	}
}
