package dap

import (
	"encoding/json"
	"errors"
	"fmt"
)

// LaunchConfig is the collection of launch request attributes recognized by
// the DAP implementation.
type LaunchConfig struct {
	// Path to a .masm source file or to an assembled package. Required.
	// If it is not an absolute path, it will be interpreted as a path
	// relative to Cwd.
	Program string `json:"program,omitempty"`

	// Values pushed on the operand stack before execution starts, they
	// replace the stack of the inputs file.
	Args []string `json:"args,omitempty"`

	// Path to a TOML file with the stack and advice inputs.
	Inputs string `json:"inputs,omitempty"`

	// Procedure to run when the program is a library, either module::name
	// or a bare name.
	Entrypoint string `json:"entrypoint,omitempty"`

	// Libraries to link, in the same [kind=]name form accepted by the
	// --link-library flag.
	Libraries []string `json:"libraries,omitempty"`

	// Directories searched for libraries given by name.
	SearchPath []string `json:"searchPath,omitempty"`

	// Working directory used to resolve relative paths. Defaults to the
	// directory of Program.
	Cwd string `json:"cwd,omitempty"`

	// Automatically stop program after launch.
	StopOnEntry bool `json:"stopOnEntry,omitempty"`

	// Maximum depth of stack trace returned to the client.
	// (Default: `50`)
	StackTraceDepth int `json:"stackTraceDepth,omitempty"`
}

func (cfg *LaunchConfig) validate() error {
	if cfg.Program == "" {
		return errors.New("The program attribute is missing in debug configuration.")
	}
	if cfg.StackTraceDepth < 0 {
		return fmt.Errorf("'stackTraceDepth' attribute '%d' in debug configuration is negative.", cfg.StackTraceDepth)
	}
	return nil
}

// unmarshalLaunchArgs wraps unmarshalling of the launch request's
// arguments attribute. Upon unmarshal failure, it returns an error massaged
// to be suitable for end-users.
func unmarshalLaunchArgs(input json.RawMessage, config *LaunchConfig) error {
	if err := json.Unmarshal(input, config); err != nil {
		if uerr, ok := err.(*json.UnmarshalTypeError); ok {
			// Format json.UnmarshalTypeError error string in our own way. E.g.,
			//   "json: cannot unmarshal number into Go struct field LaunchConfig.program of type string"
			//   => "cannot unmarshal number into 'program' of type string"
			return fmt.Errorf("cannot unmarshal %v into %q of type %v", uerr.Value, uerr.Field, uerr.Type.String())
		}
		return err
	}
	return nil
}
