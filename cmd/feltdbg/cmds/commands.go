package cmds

import (
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/cosiner/argv"
	"github.com/spf13/cobra"

	"github.com/feltdbg/feltdbg/cmd/feltdbg/cmds/helphelpers"
	"github.com/feltdbg/feltdbg/pkg/config"
	"github.com/feltdbg/feltdbg/pkg/linker"
	"github.com/feltdbg/feltdbg/pkg/logflags"
	"github.com/feltdbg/feltdbg/pkg/terminal"
	"github.com/feltdbg/feltdbg/pkg/version"
	"github.com/feltdbg/feltdbg/pkg/vm"
	"github.com/feltdbg/feltdbg/service"
	"github.com/feltdbg/feltdbg/service/api"
	"github.com/feltdbg/feltdbg/service/dap"
	"github.com/feltdbg/feltdbg/service/debugger"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// addr is the DAP server listen address.
	addr string
	// initFile is the path to initialization file.
	initFile string
	// workingDir is the directory relative program and library paths are
	// resolved against.
	workingDir string
	// inputsFile is a TOML file with the stack and advice inputs.
	inputsFile string
	// entrypoint is the procedure called when the program is a library.
	entrypoint string
	// searchPath lists directories searched for link libraries.
	searchPath []string
	// linkLibraries collects the -l flags.
	linkLibraries linker.LinkLibraryFlag

	// execArgs is a single string of stack inputs for the exec command.
	execArgs string
	// execU64 prints the result of exec as a u64.
	execU64 bool

	// buildOutput is the package file written by the build command.
	buildOutput string
	// buildName is the name of the package written by the build command.
	buildName string

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const feltdbgCommandLongDesc = `feltdbg is an interactive debugger for programs of a stack-based
virtual machine over the Goldilocks field.

feltdbg lets you step through a program one cycle or one instruction at a
time, set breakpoints on cycles, procedures or source lines, and inspect
the operand stack, the call stack, memory and debug variables.

The program is either a .masm source file or a package file produced by
'feltdbg build'. Pass stack inputs to the program using ` + "`--`" + `, for example:

` + "`feltdbg prog.masm -- 1 2 0x10`"

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	var err error
	conf, err = config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		conf = &config.Config{}
	}

	// Main feltdbg root command.
	rootCommand = &cobra.Command{
		Use:   "feltdbg <program> [-- inputs...]",
		Short: "feltdbg is a debugger for field-element VM programs.",
		Long:  feltdbgCommandLongDesc,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a program to debug")
			}
			return nil
		},
		Run: debugCmd,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable debugging server logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'feltdbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'feltdbg help log').")

	rootCommand.PersistentFlags().StringVar(&initFile, "init", "", "Init file, executed by the terminal client.")
	rootCommand.PersistentFlags().StringVar(&workingDir, "wd", ".", "Working directory programs and libraries are resolved against.")
	rootCommand.PersistentFlags().StringVar(&inputsFile, "inputs", "", "TOML file with the stack and advice inputs of the program.")
	rootCommand.PersistentFlags().StringVar(&entrypoint, "entrypoint", "", "Procedure to call when the program is a library, as module::name.")
	rootCommand.PersistentFlags().StringSliceVarP(&searchPath, "search-path", "L", nil, "Directories searched for link libraries.")
	rootCommand.PersistentFlags().VarP(&linkLibraries, "link-library", "l", "Link a library, kind is masm or masp (see 'feltdbg help link').")

	// 'exec' subcommand.
	execCommand := &cobra.Command{
		Use:   "exec <program> [-- inputs...]",
		Short: "Run a program to completion without stopping.",
		Long: `Run a program to completion and print its stack outputs.

If the program fails, exec prints the error, the call stack at the point of
failure and the last known state of the VM, and exits with status 1.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide a program to run")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			os.Exit(execCmd(cmd, args))
		},
	}
	execCommand.Flags().StringVar(&execArgs, "args", "", "Stack inputs as a single space separated string.")
	execCommand.Flags().BoolVar(&execU64, "u64", false, "Also print the top two outputs decoded as a u64.")
	rootCommand.AddCommand(execCommand)

	// 'dap' subcommand.
	dapCommand := &cobra.Command{
		Use:   "dap",
		Short: "Starts a TCP server communicating via Debug Adaptor Protocol (DAP).",
		Long: `Starts a TCP server communicating via Debug Adaptor Protocol (DAP).

The server debugs the program named by the 'program' attribute of a launch
request. The flags given on the command line are defaults that launch
request attributes override. The server accepts a single client connection
and exits when the client disconnects.`,
		Run: dapCmd,
	}
	dapCommand.Flags().StringVar(&addr, "listen", "127.0.0.1:0", "Debugging server listen address.")
	rootCommand.AddCommand(dapCommand)

	// 'build' subcommand.
	buildCommand := &cobra.Command{
		Use:   "build <file.masm>...",
		Short: "Bundle source modules into a package file.",
		Long: `Bundle source modules into a package file.

A single module with a begin block becomes an executable package, anything
else becomes a library. Link libraries given with -l are recorded as
dependencies of the package.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return errors.New("you must provide at least one source file")
			}
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			if err := buildCmd(args); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		},
	}
	buildCommand.Flags().StringVarP(&buildOutput, "output", "o", "", "Output path for the package (default <name>.masp).")
	buildCommand.Flags().StringVar(&buildName, "name", "", "Package name (default the name of the first module).")
	rootCommand.AddCommand(buildCommand)

	// 'version' subcommand.
	var buildInfo bool
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "feltdbg\n%s\n", version.FeltdbgVersion)
			if buildInfo {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&buildInfo, "verbose", "v", false, "Print build info.")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	debugger	Log debugger commands
	executor	Log every step of the VM and the events it emits
	dap		Log all DAP messages
	linker		Log library resolution
	terminal	Log failing terminal commands

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
This option will also redirect the "server listening at" message in dap
mode.

`,
	})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "link",
		Short: "Help about the --link-library and --search-path flags.",
		Long: `The --link-library (-l) flag links a library into the program, it can be
repeated or given a comma separated list. Each library is written as
[kind=]name where kind is one of:

	masm		A source module, or a directory of source modules
	masp		A package file produced by 'feltdbg build'

When the kind is omitted it is inferred from the extension of name. A name
that is not a path is looked up in the directories given with
--search-path (-L), then in the search-path configuration option, then in
the working directory.

`})

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func debugCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		program, targetArgs, err := programArgs(cmd, args)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		d, err := debugger.New(debuggerConfig(program, targetArgs))
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		term := terminal.New(d, conf)
		term.InitFile = initFile
		status, err := term.Run()
		if err != nil {
			fmt.Println(err)
		}
		return status
	}()
	os.Exit(status)
}

func execCmd(cmd *cobra.Command, args []string) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	program, targetArgs, err := programArgs(cmd, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if execArgs != "" {
		words, err := splitQuotedFields(execArgs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		targetArgs = append(words, targetArgs...)
	}
	return execute(cmd.OutOrStdout(), cmd.ErrOrStderr(), debuggerConfig(program, targetArgs), execU64)
}

// execute runs the program described by cfg to completion. Outputs go to
// stdout, failures to stderr.
func execute(stdout, stderr io.Writer, cfg *debugger.Config, asU64 bool) int {
	d, err := debugger.New(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	state, err := d.Command(&api.DebuggerCommand{Name: api.Continue})
	if err != nil {
		fmt.Fprintf(stderr, "%v\n", err)
		return 1
	}
	if state.Err != nil {
		if report := d.Report(); report != "" {
			fmt.Fprint(stderr, report)
		} else {
			fmt.Fprintf(stderr, "error: %v\n", state.Err)
		}
		return 1
	}
	fmt.Fprintf(stdout, "Outputs: %s\n", api.FormatStack(state.Outputs))
	if asU64 {
		v, ok := d.Trace().ParseResultU64()
		if !ok {
			fmt.Fprintln(stderr, "outputs are not a u64")
			return 1
		}
		fmt.Fprintf(stdout, "u64: %d\n", v)
	}
	return 0
}

func dapCmd(cmd *cobra.Command, args []string) {
	status := func() int {
		if err := logflags.Setup(log, logOutput, logDest); err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		defer logflags.Close()

		if initFile != "" {
			fmt.Fprint(os.Stderr, "Warning: init file ignored with dap\n")
		}
		program, targetArgs, _ := programArgs(cmd, args)

		listener, err := net.Listen("tcp", addr)
		if err != nil {
			fmt.Printf("couldn't start listener: %s\n", err)
			return 1
		}
		disconnectChan := make(chan struct{})
		server := dap.NewServer(&service.Config{
			Listener:       listener,
			DisconnectChan: disconnectChan,
			Debugger:       *debuggerConfig(program, targetArgs),
		})
		defer server.Stop()

		server.Run()
		waitForDisconnectSignal(disconnectChan)
		return 0
	}()
	os.Exit(status)
}

func buildCmd(args []string) error {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		return err
	}
	defer logflags.Close()

	pkg, err := buildPackage(args, buildName, linkLibraries.Libraries)
	if err != nil {
		return err
	}
	out := buildOutput
	if out == "" {
		out = pkg.Name + ".masp"
	}
	fh, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := pkg.Save(fh); err != nil {
		fh.Close()
		return err
	}
	return fh.Close()
}

// buildPackage bundles the source files at paths into a package. Link
// libraries become dependencies of the package.
func buildPackage(paths []string, name string, libs []linker.LinkLibrary) (*vm.Package, error) {
	files := make([]vm.SourceFile, 0, len(paths))
	for _, path := range paths {
		if !filepath.IsAbs(path) {
			path = filepath.Join(workingDir, path)
		}
		buf, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, err
		}
		files = append(files, vm.SourceFile{Path: filepath.Base(path), Source: string(buf)})
	}
	if name == "" {
		name = vm.ModuleName(paths[0])
	}
	deps := make([]vm.Dependency, 0, len(libs))
	for _, ll := range libs {
		deps = append(deps, vm.Dependency{Name: ll.Name})
	}
	return vm.NewPackage(name, files, deps)
}

func debuggerConfig(program string, targetArgs []string) *debugger.Config {
	paths := append([]string{}, searchPath...)
	paths = append(paths, conf.SearchPath...)
	return &debugger.Config{
		WorkingDir:    workingDir,
		Input:         program,
		Stdin:         os.Stdin,
		Entrypoint:    entrypoint,
		InputsFile:    inputsFile,
		Args:          targetArgs,
		LinkLibraries: linkLibraries.Libraries,
		SearchPath:    paths,
	}
}

// waitForDisconnectSignal is a blocking function that waits for either
// a SIGINT (Ctrl-C) signal from the OS or for disconnectChan to be closed
// by the server when the client disconnects.
func waitForDisconnectSignal(disconnectChan chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT)
	select {
	case <-ch:
	case <-disconnectChan:
	}
}

func splitArgs(cmd *cobra.Command, args []string) ([]string, []string) {
	if cmd.ArgsLenAtDash() >= 0 {
		return args[:cmd.ArgsLenAtDash()], args[cmd.ArgsLenAtDash():]
	}
	return args, []string{}
}

// programArgs separates the program from the stack inputs that follow --.
func programArgs(cmd *cobra.Command, args []string) (string, []string, error) {
	feltdbgArgs, targetArgs := splitArgs(cmd, args)
	switch len(feltdbgArgs) {
	case 0:
		return "", targetArgs, errors.New("you must provide a program")
	case 1:
		return feltdbgArgs[0], targetArgs, nil
	default:
		return "", nil, fmt.Errorf("too many arguments: %s (pass program inputs after --)", strings.Join(feltdbgArgs[1:], " "))
	}
}

// splitQuotedFields splits s into words the way a shell would, without
// backtick substitution.
func splitQuotedFields(s string) ([]string, error) {
	lines, err := argv.Argv(s, func(s string) (string, error) {
		return "", fmt.Errorf("Backtick not supported in '%s'", s)
	}, nil)
	if err != nil {
		return nil, err
	}
	var words []string
	for _, l := range lines {
		words = append(words, l...)
	}
	return words, nil
}
