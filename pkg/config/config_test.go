package config

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
)

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
aliases:
  step: ["st"]
source-list-line-count: 3
prompt-color: green
search-path: ["/opt/masm", "lib"]
show-location-expr: true
`))
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Aliases["step"]; len(got) != 1 || got[0] != "st" {
		t.Fatalf("unexpected aliases %v", c.Aliases)
	}
	if c.GetSourceListLineCount() != 3 {
		t.Fatalf("unexpected line count %d", c.GetSourceListLineCount())
	}
	if c.GetMaxHistory() != defaultMaxHistory {
		t.Fatalf("unexpected max history %d", c.GetMaxHistory())
	}
	if c.PromptColor != "green" || len(c.SearchPath) != 2 || !c.ShowLocationExpr {
		t.Fatalf("unexpected config %#v", c)
	}

	if _, err := Parse([]byte("aliases: [")); err == nil {
		t.Fatalf("expected a decoding error")
	}
}

func TestDefaultConfigParses(t *testing.T) {
	c, err := Parse([]byte(defaultConfig))
	if err != nil {
		t.Fatal(err)
	}
	if c.GetSourceListLineCount() != defaultSourceListLineCount {
		t.Fatalf("unexpected line count %d", c.GetSourceListLineCount())
	}
}

func TestLoadAndSaveConfig(t *testing.T) {
	dir, err := ioutil.TempDir("", "feltdbg-config")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	old := os.Getenv("XDG_CONFIG_HOME")
	os.Setenv("XDG_CONFIG_HOME", dir)
	defer os.Setenv("XDG_CONFIG_HOME", old)

	c, err := LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "feltdbg", "config.yml")); err != nil {
		t.Fatalf("default config was not created: %v", err)
	}

	n := 10
	c.MaxHistory = &n
	c.Aliases = map[string][]string{"continue": {"go"}}
	if err := SaveConfig(c); err != nil {
		t.Fatal(err)
	}
	c, err = LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	if c.GetMaxHistory() != 10 || c.Aliases["continue"][0] != "go" {
		t.Fatalf("config did not round trip: %#v", c)
	}
}
