// Package linker resolves the libraries named on the command line with
// -l/--link-library against the configured search paths.
package linker

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/feltdbg/feltdbg/pkg/logflags"
	"github.com/feltdbg/feltdbg/pkg/vm"
)

// LibraryKind is the on-disk form of a link library.
type LibraryKind uint8

const (
	// KindMasm is a source module, or a directory of source modules.
	KindMasm LibraryKind = iota
	// KindMasp is a library package.
	KindMasp
)

func (k LibraryKind) String() string {
	switch k {
	case KindMasm:
		return "masm"
	case KindMasp:
		return "masp"
	}
	return fmt.Sprintf("LibraryKind(%d)", uint8(k))
}

// ParseLibraryKind parses the kind prefix of a link library argument.
func ParseLibraryKind(s string) (LibraryKind, error) {
	switch s {
	case "masm":
		return KindMasm, nil
	case "masp":
		return KindMasp, nil
	}
	return 0, fmt.Errorf("invalid library kind %q, expected masm or masp", s)
}

// ErrLibraryNotFound is returned when a library can not be found in any of
// the search paths.
var ErrLibraryNotFound = errors.New("library not found")

// LinkLibrary is a library to link against the program being debugged.
type LinkLibrary struct {
	Kind LibraryKind
	// Name is the namespace procedures of the library are addressed with.
	Name string
	// Path is set when the library was given by path rather than by name.
	Path string
}

func (ll LinkLibrary) String() string {
	target := ll.Name
	if ll.Path != "" {
		target = ll.Path
	}
	return ll.Kind.String() + "=" + target
}

// ParseLinkLibrary parses an argument of the form [kind=]name. When name is
// a path the library namespace is its base name without extension, and the
// kind defaults to the one implied by the extension.
func ParseLinkLibrary(arg string) (LinkLibrary, error) {
	var ll LinkLibrary
	if arg == "" {
		return ll, errors.New("empty link library")
	}
	kindSet := false
	if i := strings.IndexByte(arg, '='); i >= 0 {
		kind, err := ParseLibraryKind(arg[:i])
		if err != nil {
			return ll, err
		}
		ll.Kind = kind
		kindSet = true
		arg = arg[i+1:]
		if arg == "" {
			return ll, fmt.Errorf("missing library name after %s=", kind)
		}
	}

	ext := filepath.Ext(arg)
	if strings.ContainsAny(arg, `/\`) || ext == ".masm" || ext == ".masp" {
		ll.Path = arg
		ll.Name = vm.ModuleName(arg)
		if !kindSet && ext == ".masp" {
			ll.Kind = KindMasp
		}
	} else {
		ll.Name = arg
	}
	if ll.Name == "" {
		return ll, fmt.Errorf("invalid link library %q", arg)
	}
	return ll, nil
}

// Load finds the library on disk and assembles it. Relative paths are
// resolved against workingDir, names are looked up in each of searchPaths
// in order and then in workingDir.
func (ll LinkLibrary) Load(searchPaths []string, workingDir string) (*vm.Library, error) {
	log := logflags.LinkerLogger()

	path, err := ll.resolve(searchPaths, workingDir)
	if err != nil {
		return nil, err
	}
	log.Debugf("resolved %s to %s", ll, path)

	var lib *vm.Library
	switch ll.Kind {
	case KindMasp:
		pkg, err := vm.LoadPackage(path)
		if err != nil {
			return nil, err
		}
		if !pkg.IsLibrary() {
			return nil, fmt.Errorf("%s: package %s is not a library", path, pkg.Name)
		}
		lib, err = pkg.Library()
		if err != nil {
			return nil, err
		}
	default:
		files, err := sourceFiles(path)
		if err != nil {
			return nil, err
		}
		lib, err = vm.AssembleLibrary(ll.Name, files)
		if err != nil {
			return nil, fmt.Errorf("could not assemble library %s: %v", ll.Name, err)
		}
	}
	log.Debugf("loaded library %s with %d procedures", lib.Name, len(lib.Procedures))
	return lib, nil
}

func (ll LinkLibrary) resolve(searchPaths []string, workingDir string) (string, error) {
	if ll.Path != "" {
		path := ll.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(workingDir, path)
		}
		if _, err := os.Stat(path); err != nil {
			return "", fmt.Errorf("%s: %w", ll, ErrLibraryNotFound)
		}
		return path, nil
	}

	var candidates []string
	switch ll.Kind {
	case KindMasp:
		candidates = []string{ll.Name + ".masp"}
	default:
		candidates = []string{ll.Name + ".masm", ll.Name}
	}

	dirs := append(append([]string{}, searchPaths...), workingDir)
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		for _, c := range candidates {
			path := filepath.Join(dir, c)
			fi, err := os.Stat(path)
			if err != nil {
				continue
			}
			if fi.IsDir() && ll.Kind == KindMasp {
				continue
			}
			return path, nil
		}
	}
	return "", fmt.Errorf("%s (searched %s): %w", ll, strings.Join(dirs, ", "), ErrLibraryNotFound)
}

// sourceFiles returns every .masm file at path, which may be a single file
// or a directory walked recursively.
func sourceFiles(path string) ([]vm.SourceFile, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !fi.IsDir() {
		buf, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return []vm.SourceFile{{Path: path, Source: string(buf)}}, nil
	}

	var files []vm.SourceFile
	err = filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(p) != ".masm" {
			return nil
		}
		buf, err := ioutil.ReadFile(p)
		if err != nil {
			return err
		}
		files = append(files, vm.SourceFile{Path: p, Source: string(buf)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%s: directory contains no .masm files", path)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// LoadAll loads every library in libs.
func LoadAll(libs []LinkLibrary, searchPaths []string, workingDir string) ([]*vm.Library, error) {
	r := make([]*vm.Library, 0, len(libs))
	for _, ll := range libs {
		lib, err := ll.Load(searchPaths, workingDir)
		if err != nil {
			return nil, err
		}
		r = append(r, lib)
	}
	return r, nil
}
