package helphelpers

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// Prepare prepares cmd flag set for the invocation of its usage function by
// hiding flags that we want cobra to parse but we don't want to show to the
// user.
// The program loading flags live on the root command so that
//
//	feltdbg --inputs in.toml exec prog.masm
//
// parses, but they mean nothing to 'build' or 'version'.
//
// Prepare is a destructive command, cmd can not be reused after it has been
// called.
func Prepare(cmd *cobra.Command) {
	switch cmd.Name() {
	case "help", "version", "log", "link":
		hideAllFlags(cmd)
	case "build":
		hideFlag(cmd, "init")
		hideFlag(cmd, "inputs")
		hideFlag(cmd, "entrypoint")
		hideFlag(cmd, "search-path")
	case "exec":
		hideFlag(cmd, "init")
	case "dap":
		hideFlag(cmd, "init")
	}
}

func hideAllFlags(cmd *cobra.Command) {
	hide := func(flag *pflag.Flag) {
		flag.Hidden = true
	}
	cmd.PersistentFlags().VisitAll(hide)
	cmd.Flags().VisitAll(hide)
	cmd.InheritedFlags().VisitAll(hide)
}

func hideFlag(cmd *cobra.Command, name string) {
	if cmd == nil {
		return
	}
	if flag := cmd.Flags().Lookup(name); flag != nil {
		flag.Hidden = true
		return
	}
	if flag := cmd.PersistentFlags().Lookup(name); flag != nil {
		flag.Hidden = true
		return
	}
	hideFlag(cmd.Parent(), name)
}
