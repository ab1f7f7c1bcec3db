package proc

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/feltdbg/feltdbg/pkg/felt"
)

// FeltValue is a field element decoded from TOML. It accepts integers and
// strings, the latter in decimal, 0x hex or 0b binary notation.
type FeltValue felt.Felt

// UnmarshalTOML implements toml.Unmarshaler.
func (v *FeltValue) UnmarshalTOML(data interface{}) error {
	switch x := data.(type) {
	case int64:
		if x < 0 {
			return fmt.Errorf("invalid field element %d: must not be negative", x)
		}
		*v = FeltValue(felt.New(uint64(x)))
		return nil
	case string:
		f, err := felt.Parse(x)
		if err != nil {
			return err
		}
		*v = FeltValue(f)
		return nil
	}
	return fmt.Errorf("invalid field element %v: expected an integer or a string", data)
}

// ExecutionInputs are the initial contents of the operand and advice
// stacks.
type ExecutionInputs struct {
	Stack  []FeltValue `toml:"stack"`
	Advice []FeltValue `toml:"advice"`
}

// ExecutionOptions limits execution.
type ExecutionOptions struct {
	MaxCycles uint64 `toml:"max_cycles"`
}

// ExecutionConfig is the contents of an inputs file:
//
//	[inputs]
//	stack = [1, 2, "0x10"]
//	advice = [5, 6]
//
//	[options]
//	max_cycles = 1000000
type ExecutionConfig struct {
	Inputs  ExecutionInputs  `toml:"inputs"`
	Options ExecutionOptions `toml:"options"`
}

// StackInputs returns the operand stack inputs, in push order.
func (cfg *ExecutionConfig) StackInputs() []felt.Felt {
	return feltValues(cfg.Inputs.Stack)
}

// AdviceInputs returns the advice inputs, first popped first.
func (cfg *ExecutionConfig) AdviceInputs() []felt.Felt {
	return feltValues(cfg.Inputs.Advice)
}

func feltValues(vs []FeltValue) []felt.Felt {
	r := make([]felt.Felt, len(vs))
	for i, v := range vs {
		r[i] = felt.Felt(v)
	}
	return r
}

// LoadExecutionConfig reads an inputs file. Unknown keys are rejected.
func LoadExecutionConfig(path string) (*ExecutionConfig, error) {
	cfg := new(ExecutionConfig)
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("could not read inputs file %s: %v", path, err)
	}
	if err := checkUndecoded(md); err != nil {
		return nil, fmt.Errorf("invalid inputs file %s: %v", path, err)
	}
	return cfg, nil
}

// ParseExecutionConfig parses the text of an inputs file.
func ParseExecutionConfig(text string) (*ExecutionConfig, error) {
	cfg := new(ExecutionConfig)
	md, err := toml.Decode(text, cfg)
	if err != nil {
		return nil, err
	}
	if err := checkUndecoded(md); err != nil {
		return nil, err
	}
	return cfg, nil
}

func checkUndecoded(md toml.MetaData) error {
	keys := md.Undecoded()
	if len(keys) == 0 {
		return nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	return fmt.Errorf("unknown keys: %s", strings.Join(names, ", "))
}
