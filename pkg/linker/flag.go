package linker

import (
	"strings"

	"github.com/spf13/pflag"
)

// LinkLibraryFlag collects repeated -l flags.
type LinkLibraryFlag struct {
	Libraries []LinkLibrary
}

var _ pflag.Value = (*LinkLibraryFlag)(nil)

func (f *LinkLibraryFlag) String() string {
	s := make([]string, len(f.Libraries))
	for i := range f.Libraries {
		s[i] = f.Libraries[i].String()
	}
	return strings.Join(s, ",")
}

func (f *LinkLibraryFlag) Set(arg string) error {
	for _, part := range strings.Split(arg, ",") {
		ll, err := ParseLinkLibrary(strings.TrimSpace(part))
		if err != nil {
			return err
		}
		f.Libraries = append(f.Libraries, ll)
	}
	return nil
}

func (f *LinkLibraryFlag) Type() string {
	return "[kind=]name"
}
