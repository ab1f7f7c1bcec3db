package vm

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"

	"gopkg.in/yaml.v2"
)

// PackageKind distinguishes executable packages from libraries.
type PackageKind string

const (
	PackageExecutable PackageKind = "executable"
	PackageLibrary    PackageKind = "library"
)

// Package is the on-disk form of a compiled program or library: a YAML
// document carrying the module sources together with the package's
// dependencies.
type Package struct {
	Name         string       `yaml:"name"`
	Kind         PackageKind  `yaml:"kind"`
	Dependencies []Dependency `yaml:"dependencies,omitempty"`
	Modules      []Module     `yaml:"modules"`
}

// Module is one source module embedded in a package.
type Module struct {
	Path   string `yaml:"path"`
	Source string `yaml:"source"`
}

// ReadPackage decodes a package.
func ReadPackage(r io.Reader) (*Package, error) {
	buf, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParsePackage(buf)
}

// ParsePackage decodes a package from buf.
func ParsePackage(buf []byte) (*Package, error) {
	var pkg Package
	if err := yaml.UnmarshalStrict(buf, &pkg); err != nil {
		return nil, fmt.Errorf("invalid package: %v", err)
	}
	switch pkg.Kind {
	case PackageExecutable:
		if len(pkg.Modules) != 1 {
			return nil, fmt.Errorf("invalid package %s: executable packages contain exactly one module", pkg.Name)
		}
	case PackageLibrary:
		if len(pkg.Modules) == 0 {
			return nil, fmt.Errorf("invalid package %s: library has no modules", pkg.Name)
		}
	default:
		return nil, fmt.Errorf("invalid package %s: unknown kind %q", pkg.Name, pkg.Kind)
	}
	if pkg.Name == "" {
		return nil, fmt.Errorf("invalid package: missing name")
	}
	return &pkg, nil
}

// LoadPackage reads a package from path.
func LoadPackage(path string) (*Package, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	pkg, err := ReadPackage(fh)
	if err != nil {
		return nil, fmt.Errorf("failed to load package from %s: %v", path, err)
	}
	return pkg, nil
}

// Save writes the package to w.
func (pkg *Package) Save(w io.Writer) error {
	buf, err := yaml.Marshal(pkg)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

// IsLibrary reports whether the package holds a library.
func (pkg *Package) IsLibrary() bool {
	return pkg.Kind == PackageLibrary
}

// Program assembles an executable package.
func (pkg *Package) Program() (*Program, error) {
	if pkg.Kind != PackageExecutable {
		return nil, fmt.Errorf("package %s is a library, an entrypoint is required", pkg.Name)
	}
	m := pkg.Modules[0]
	return Assemble(m.Path, m.Source)
}

// Library assembles a library package.
func (pkg *Package) Library() (*Library, error) {
	if pkg.Kind != PackageLibrary {
		return nil, fmt.Errorf("expected package %s to contain a library", pkg.Name)
	}
	files := make([]SourceFile, len(pkg.Modules))
	for i, m := range pkg.Modules {
		files[i] = SourceFile{Path: m.Path, Source: m.Source}
	}
	return AssembleLibrary(pkg.Name, files)
}

// NewPackage builds a package from source files. A package with a single
// file containing a begin block is an executable, anything else is a
// library.
func NewPackage(name string, files []SourceFile, deps []Dependency) (*Package, error) {
	pkg := &Package{Name: name, Kind: PackageLibrary, Dependencies: deps}
	for _, f := range files {
		pkg.Modules = append(pkg.Modules, Module{Path: f.Path, Source: f.Source})
	}
	if len(files) == 1 {
		if _, err := Assemble(files[0].Path, files[0].Source); err == nil {
			pkg.Kind = PackageExecutable
		}
	}
	if pkg.Kind == PackageLibrary {
		if _, err := pkg.Library(); err != nil {
			return nil, err
		}
	}
	return pkg, nil
}
