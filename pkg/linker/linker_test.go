package linker

import (
	"errors"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/feltdbg/feltdbg/pkg/vm"
)

func TestParseLinkLibrary(t *testing.T) {
	tests := []struct {
		in   string
		want LinkLibrary
	}{
		{"std", LinkLibrary{Kind: KindMasm, Name: "std"}},
		{"masp=std", LinkLibrary{Kind: KindMasp, Name: "std"}},
		{"masm=lib/math", LinkLibrary{Kind: KindMasm, Name: "math", Path: "lib/math"}},
		{"lib/math.masp", LinkLibrary{Kind: KindMasp, Name: "math", Path: "lib/math.masp"}},
		{"masm=util.masm", LinkLibrary{Kind: KindMasm, Name: "util", Path: "util.masm"}},
	}
	for _, tc := range tests {
		got, err := ParseLinkLibrary(tc.in)
		if err != nil {
			t.Fatalf("%q: %v", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("%q: expected %#v got %#v", tc.in, tc.want, got)
		}
	}

	for _, in := range []string{"", "rlib=std", "masm="} {
		if _, err := ParseLinkLibrary(in); err == nil {
			t.Errorf("%q: expected an error", in)
		}
	}
}

func TestLinkLibraryFlag(t *testing.T) {
	var f LinkLibraryFlag
	if err := f.Set("std"); err != nil {
		t.Fatal(err)
	}
	if err := f.Set("masp=base,masm=lib/x"); err != nil {
		t.Fatal(err)
	}
	if len(f.Libraries) != 3 {
		t.Fatalf("expected 3 libraries, got %d", len(f.Libraries))
	}
	if s := f.String(); s != "masm=std,masp=base,masm=lib/x" {
		t.Fatalf("unexpected flag value %q", s)
	}
	if err := f.Set("bad=x"); err == nil {
		t.Fatalf("expected an error for an unknown kind")
	}
}

const mathSource = `
export.double
    dup.0 add
end
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoad(t *testing.T) {
	dir, err := ioutil.TempDir("", "feltdbg-linker")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	searchDir := filepath.Join(dir, "libs")
	writeFile(t, filepath.Join(searchDir, "math.masm"), mathSource)
	writeFile(t, filepath.Join(dir, "util", "a.masm"), "export.one push.1 end")
	writeFile(t, filepath.Join(dir, "util", "b.masm"), "export.two push.2 end")

	pkg, err := vm.NewPackage("pkgmath", []vm.SourceFile{{Path: "m.masm", Source: mathSource}}, nil)
	if err != nil {
		t.Fatal(err)
	}
	fh, err := os.Create(filepath.Join(searchDir, "pkgmath.masp"))
	if err != nil {
		t.Fatal(err)
	}
	if err := pkg.Save(fh); err != nil {
		t.Fatal(err)
	}
	fh.Close()

	lib, err := LinkLibrary{Kind: KindMasm, Name: "math"}.Load([]string{searchDir}, dir)
	if err != nil {
		t.Fatal(err)
	}
	if ex := lib.Exports(); len(ex) != 1 || ex[0] != "math::double" {
		t.Fatalf("unexpected exports %v", ex)
	}

	lib, err = LinkLibrary{Kind: KindMasm, Name: "util"}.Load(nil, dir)
	if err != nil {
		t.Fatal(err)
	}
	if ex := lib.Exports(); len(ex) != 2 || ex[0] != "util::one" || ex[1] != "util::two" {
		t.Fatalf("unexpected exports %v", ex)
	}

	ll, err := ParseLinkLibrary("masp=pkgmath")
	if err != nil {
		t.Fatal(err)
	}
	libs, err := LoadAll([]LinkLibrary{ll}, []string{searchDir}, dir)
	if err != nil {
		t.Fatal(err)
	}
	if libs[0].Name != "pkgmath" {
		t.Fatalf("unexpected library name %q", libs[0].Name)
	}

	ll, err = ParseLinkLibrary("libs/math.masm")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ll.Load(nil, dir); err != nil {
		t.Fatal(err)
	}

	_, err = LinkLibrary{Kind: KindMasm, Name: "missing"}.Load([]string{searchDir}, dir)
	if !errors.Is(err, ErrLibraryNotFound) {
		t.Fatalf("expected ErrLibraryNotFound, got %v", err)
	}
}
