// Package dap implements VSCode's Debug Adaptor Protocol (DAP).
// This allows feltdbg to communicate with frontends using DAP
// without a separate adaptor. The frontend will run the debugger
// (which now doubles as an adaptor) in server mode listening on
// a port and communicating over TCP. The server supports synchronous
// request-response communication, blocking while processing each request.
// For DAP details see https://microsoft.github.io/debug-adapter-protocol.
package dap

import (
	"bufio"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/feltdbg/feltdbg/pkg/linker"
	"github.com/feltdbg/feltdbg/pkg/logflags"
	"github.com/feltdbg/feltdbg/pkg/proc"
	"github.com/feltdbg/feltdbg/service"
	"github.com/feltdbg/feltdbg/service/api"
	"github.com/feltdbg/feltdbg/service/debugger"
	"github.com/google/go-dap"
	"github.com/sirupsen/logrus"
)

// Server implements a DAP server that can accept a single client for
// a single debug session. Restart requests reuse the session.
// The server operates via two goroutines:
// (1) Main goroutine where the server is created via NewServer(),
// started via Run() and stopped via Stop().
// (2) Run goroutine started from Run() that accepts a client connection,
// reads, decodes and processes each request, issuing commands to the
// underlying debugger and sending back events and responses.
type Server struct {
	// config is all the information necessary to start the debugger and server.
	config *service.Config
	// listener is used to accept the client connection.
	listener net.Listener
	// conn is the accepted client connection.
	conn net.Conn
	// stopChan is closed when the server is Stop()-ed. This can be used to signal
	// to goroutines run by the server that it's time to quit.
	stopChan chan struct{}
	// reader is used to read requests from the connection.
	reader *bufio.Reader
	// debugger is the underlying debugger service.
	debugger *debugger.Debugger
	// log is used for structured logging.
	log *logrus.Entry
	// stackFrameHandles maps frames of the call stack to unique ids.
	stackFrameHandles *handlesMap
	// variableHandles maps scopes to unique references within their stack frame.
	variableHandles *handlesMap
	// args tracks special settings for handling debug session requests.
	args launchArgs
	// functionBreakpoints and sourceBreakpoints remember the ids of the
	// breakpoints created by the last request of each kind, so that a new
	// request replaces them.
	functionBreakpoints []int
	sourceBreakpoints   map[string][]int
}

// launchArgs captures arguments from the launch request that impact
// handling of subsequent requests.
type launchArgs struct {
	// stopOnEntry is set to automatically stop the debugee after start.
	stopOnEntry bool
	// stackTraceDepth is the maximum length of the returned list of stack frames.
	stackTraceDepth int
}

var defaultArgs = launchArgs{
	stopOnEntry:     false,
	stackTraceDepth: 50,
}

// The only thread reported to clients, the VM has no threads of its own.
const vmThreadID = 1

// NewServer creates a new DAP Server. It takes an opened Listener
// via config and assumes its ownership. config.DisconnectChan has to be set;
// it will be closed by the server when the client disconnects or requests
// shutdown. Once DisconnectChan is closed, Server.Stop() must be called.
func NewServer(config *service.Config) *Server {
	logger := logflags.DAPLogger()
	logflags.WriteDAPListeningMessage(config.Listener.Addr().String())
	logger.Debug("DAP server pid = ", os.Getpid())
	return &Server{
		config:            config,
		listener:          config.Listener,
		stopChan:          make(chan struct{}),
		log:               logger,
		stackFrameHandles: newHandlesMap(),
		variableHandles:   newHandlesMap(),
		args:              defaultArgs,
		sourceBreakpoints: map[string][]int{},
	}
}

// Stop stops the DAP debugger service, closes the listener and the client
// connection. This method mustn't be called more than once.
func (s *Server) Stop() {
	s.listener.Close()
	close(s.stopChan)
	if s.conn != nil {
		// Unless Stop() was called after serveDAPCodec()
		// returned, this will result in closed connection error
		// on next read, breaking out of the read loop and
		// allowing the run goroutine to exit.
		s.conn.Close()
	}
	if s.debugger != nil {
		if _, err := s.debugger.Command(&api.DebuggerCommand{Name: api.Halt}); err != nil {
			s.log.Error(err)
		}
	}
}

// signalDisconnect closes config.DisconnectChan if not nil, which
// signals that the client disconnected or there was a client
// connection failure. The function safeguards against closing the
// channel more than once and can be called multiple times. It is only
// called from the run goroutine.
func (s *Server) signalDisconnect() {
	if s.config.DisconnectChan != nil {
		close(s.config.DisconnectChan)
		s.config.DisconnectChan = nil
	}
}

// Run launches a new goroutine where it accepts a client connection
// and starts processing requests from it. Use Stop() to close connection.
// The server does not support multiple clients, serially or in parallel.
// The debugger won't be started until a launch request is received.
func (s *Server) Run() {
	go func() {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopChan:
			default:
				s.log.Errorf("Error accepting client connection: %s\n", err)
			}
			s.signalDisconnect()
			return
		}
		s.conn = conn
		s.serveDAPCodec()
	}()
}

// serveDAPCodec reads and decodes requests from the client
// until it encounters an error or EOF, when it sends
// the disconnect signal and returns.
func (s *Server) serveDAPCodec() {
	defer s.signalDisconnect()
	s.reader = bufio.NewReader(s.conn)
	for {
		request, err := dap.ReadProtocolMessage(s.reader)
		if err != nil {
			stopRequested := false
			select {
			case <-s.stopChan:
				stopRequested = true
			default:
			}
			if err != io.EOF && !stopRequested {
				s.log.Error("DAP error: ", err)
			}
			return
		}
		s.handleRequest(request)
	}
}

func (s *Server) handleRequest(request dap.Message) {
	defer func() {
		// In case a handler panics, we catch the panic and send an error response
		// back to the client.
		if ierr := recover(); ierr != nil {
			s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("%v", ierr))
		}
	}()

	jsonmsg, _ := json.Marshal(request)
	s.log.Debug("[<- from client]", string(jsonmsg))

	if _, ok := request.(dap.RequestMessage); !ok {
		s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("Unable to process non-request %#v\n", request))
		return
	}

	switch request := request.(type) {
	case *dap.InitializeRequest:
		s.onInitializeRequest(request)
		return
	case *dap.LaunchRequest:
		s.onLaunchRequest(request)
		return
	case *dap.DisconnectRequest:
		s.onDisconnectRequest(request)
		return
	}

	if s.debugger == nil {
		// Every request below needs a launched program.
		r := request.(dap.RequestMessage).GetRequest()
		s.sendErrorResponse(*r, NoDebugIsRunning, "Unable to process request", "no program has been launched")
		return
	}

	switch request := request.(type) {
	case *dap.SetBreakpointsRequest:
		s.onSetBreakpointsRequest(request)
	case *dap.SetFunctionBreakpointsRequest:
		s.onSetFunctionBreakpointsRequest(request)
	case *dap.SetExceptionBreakpointsRequest:
		s.onSetExceptionBreakpointsRequest(request)
	case *dap.ConfigurationDoneRequest:
		s.onConfigurationDoneRequest(request)
	case *dap.ContinueRequest:
		s.onContinueRequest(request)
	case *dap.NextRequest:
		s.onNextRequest(request)
	case *dap.StepInRequest:
		s.onStepInRequest(request)
	case *dap.StepOutRequest:
		s.onStepOutRequest(request)
	case *dap.PauseRequest:
		s.onPauseRequest(request)
	case *dap.RestartRequest:
		s.onRestartRequest(request)
	case *dap.ThreadsRequest:
		s.onThreadsRequest(request)
	case *dap.StackTraceRequest:
		s.onStackTraceRequest(request)
	case *dap.ScopesRequest:
		s.onScopesRequest(request)
	case *dap.VariablesRequest:
		s.onVariablesRequest(request)
	case *dap.EvaluateRequest:
		s.onEvaluateRequest(request)
	case *dap.ReadMemoryRequest:
		s.onReadMemoryRequest(request)
	case *dap.LoadedSourcesRequest:
		s.onLoadedSourcesRequest(request)
	case *dap.AttachRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.StepBackRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.ReverseContinueRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SetVariableRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SetExpressionRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SourceRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.DisassembleRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	default:
		r := request.(dap.RequestMessage).GetRequest()
		s.sendUnsupportedErrorResponse(*r)
	}
}

func (s *Server) send(message dap.Message) {
	jsonmsg, _ := json.Marshal(message)
	s.log.Debug("[-> to client]", string(jsonmsg))
	dap.WriteProtocolMessage(s.conn, message)
}

func (s *Server) onInitializeRequest(request *dap.InitializeRequest) {
	response := &dap.InitializeResponse{Response: *newResponse(request.Request)}
	response.Body.SupportsConfigurationDoneRequest = true
	response.Body.SupportsFunctionBreakpoints = true
	response.Body.SupportsEvaluateForHovers = true
	response.Body.SupportsReadMemoryRequest = true
	response.Body.SupportsLoadedSourcesRequest = true
	response.Body.SupportsRestartRequest = true
	response.Body.SupportsSetVariable = false
	response.Body.SupportsStepBack = false
	s.send(response)
}

func (s *Server) onLaunchRequest(request *dap.LaunchRequest) {
	if s.debugger != nil {
		s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch",
			"a program is already being debugged")
		return
	}

	var args LaunchConfig
	if err := unmarshalLaunchArgs(request.Arguments, &args); err != nil {
		s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch",
			fmt.Sprintf("invalid debug configuration - %v", err))
		return
	}
	if err := args.validate(); err != nil {
		s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch", err.Error())
		return
	}

	s.args.stopOnEntry = args.StopOnEntry
	if args.StackTraceDepth > 0 {
		s.args.stackTraceDepth = args.StackTraceDepth
	}

	cfg := s.config.Debugger
	cfg.Input = args.Program
	if args.Cwd != "" {
		cfg.WorkingDir = args.Cwd
	} else if cfg.WorkingDir == "" {
		cfg.WorkingDir = filepath.Dir(args.Program)
	}
	if args.Inputs != "" {
		cfg.InputsFile = args.Inputs
	}
	if args.Entrypoint != "" {
		cfg.Entrypoint = args.Entrypoint
	}
	if len(args.Args) > 0 {
		cfg.Args = args.Args
	}
	if len(args.SearchPath) > 0 {
		cfg.SearchPath = append(cfg.SearchPath, args.SearchPath...)
	}
	for _, lib := range args.Libraries {
		ll, err := linker.ParseLinkLibrary(lib)
		if err != nil {
			s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch",
				fmt.Sprintf("'libraries' attribute: %v", err))
			return
		}
		cfg.LinkLibraries = append(cfg.LinkLibraries, ll)
	}

	var err error
	if s.debugger, err = debugger.New(&cfg); err != nil {
		s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to launch", err.Error())
		return
	}
	s.log = s.log.WithField("session", s.debugger.SessionID())

	// Notify the client that the debugger is ready to start accepting
	// configuration requests for setting breakpoints, etc. The client
	// will end the configuration sequence with 'configurationDone'.
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
	s.send(&dap.LaunchResponse{Response: *newResponse(request.Request)})
}

// onDisconnectRequest handles the DisconnectRequest. Per the DAP spec,
// it disconnects the debuggee and signals that the debug adaptor
// (in our case this TCP server) can be terminated.
func (s *Server) onDisconnectRequest(request *dap.DisconnectRequest) {
	s.send(&dap.DisconnectResponse{Response: *newResponse(request.Request)})
	if s.debugger != nil {
		if _, err := s.debugger.Command(&api.DebuggerCommand{Name: api.Halt}); err != nil {
			s.log.Error(err)
		}
	}
	s.signalDisconnect()
}

func (s *Server) onSetBreakpointsRequest(request *dap.SetBreakpointsRequest) {
	path := request.Arguments.Source.Path
	if path == "" {
		s.sendErrorResponse(request.Request, UnableToSetBreakpoints, "Unable to set or clear breakpoints", "empty file path")
		return
	}

	for _, id := range s.sourceBreakpoints[path] {
		if _, err := s.debugger.ClearBreakpoint(id); err != nil {
			s.log.Debug(err)
		}
	}
	s.sourceBreakpoints[path] = nil

	var fatal error
	response := &dap.SetBreakpointsResponse{Response: *newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
	for i, b := range request.Arguments.Breakpoints {
		response.Body.Breakpoints[i].Line = b.Line
		bp, err := s.debugger.CreateBreakpoint(fmt.Sprintf("%s:%d", path, b.Line))
		if err != nil {
			response.Body.Breakpoints[i].Message = err.Error()
			if proc.IsFatal(err) && fatal == nil {
				fatal = err
			}
			continue
		}
		response.Body.Breakpoints[i].Id = bp.ID
		response.Body.Breakpoints[i].Verified = true
		s.sourceBreakpoints[path] = append(s.sourceBreakpoints[path], bp.ID)
	}
	s.send(response)
	if fatal != nil {
		s.handleFatal(fatal)
	}
}

// onSetFunctionBreakpointsRequest handles function breakpoints. The name of
// a function breakpoint is a procedure name, or any breakpoint specification
// accepted by the break command, like "at 100".
func (s *Server) onSetFunctionBreakpointsRequest(request *dap.SetFunctionBreakpointsRequest) {
	for _, id := range s.functionBreakpoints {
		if _, err := s.debugger.ClearBreakpoint(id); err != nil {
			s.log.Debug(err)
		}
	}
	s.functionBreakpoints = nil

	var fatal error
	response := &dap.SetFunctionBreakpointsResponse{Response: *newResponse(request.Request)}
	response.Body.Breakpoints = make([]dap.Breakpoint, len(request.Arguments.Breakpoints))
	for i, b := range request.Arguments.Breakpoints {
		spec := strings.TrimSpace(b.Name)
		if !strings.ContainsAny(spec, " :") {
			spec = "in " + spec
		}
		bp, err := s.debugger.CreateBreakpoint(spec)
		if err != nil {
			response.Body.Breakpoints[i].Message = err.Error()
			if proc.IsFatal(err) && fatal == nil {
				fatal = err
			}
			continue
		}
		response.Body.Breakpoints[i].Id = bp.ID
		response.Body.Breakpoints[i].Verified = true
		s.functionBreakpoints = append(s.functionBreakpoints, bp.ID)
	}
	s.send(response)
	if fatal != nil {
		s.handleFatal(fatal)
	}
}

func (s *Server) onSetExceptionBreakpointsRequest(request *dap.SetExceptionBreakpointsRequest) {
	// Unlike what DAP documentation claims, this request is always sent
	// even though we specified no filters at initialization. Handle as no-op.
	s.send(&dap.SetExceptionBreakpointsResponse{Response: *newResponse(request.Request)})
}

func (s *Server) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	if s.args.stopOnEntry {
		e := &dap.StoppedEvent{
			Event: *newEvent("stopped"),
			Body:  dap.StoppedEventBody{Reason: "entry", ThreadId: vmThreadID, AllThreadsStopped: true},
		}
		s.send(e)
	}
	s.send(&dap.ConfigurationDoneResponse{Response: *newResponse(request.Request)})
	if !s.args.stopOnEntry {
		s.doCommand(api.Continue, 0)
	}
}

func (s *Server) onContinueRequest(request *dap.ContinueRequest) {
	s.send(&dap.ContinueResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ContinueResponseBody{AllThreadsContinued: true}})
	s.doCommand(api.Continue, 0)
}

func (s *Server) onNextRequest(request *dap.NextRequest) {
	s.send(&dap.NextResponse{Response: *newResponse(request.Request)})
	s.doCommand(api.Next, 0)
}

func (s *Server) onStepInRequest(request *dap.StepInRequest) {
	s.send(&dap.StepInResponse{Response: *newResponse(request.Request)})
	s.doCommand(api.Step, 1)
}

func (s *Server) onStepOutRequest(request *dap.StepOutRequest) {
	s.send(&dap.StepOutResponse{Response: *newResponse(request.Request)})
	s.doCommand(api.StepOut, 0)
}

// onPauseRequest requests a manual stop. Requests are served one at a
// time, so the program is never running when this is processed: the stop
// takes effect on the next resume.
func (s *Server) onPauseRequest(request *dap.PauseRequest) {
	if _, err := s.debugger.Command(&api.DebuggerCommand{Name: api.Halt}); err != nil {
		s.sendErrorResponse(request.Request, InternalError, "Unable to halt execution", err.Error())
		return
	}
	s.send(&dap.PauseResponse{Response: *newResponse(request.Request)})
}

// onRestartRequest starts the program again, reading it from disk.
// Breakpoints are kept.
func (s *Server) onRestartRequest(request *dap.RestartRequest) {
	if _, err := s.debugger.Restart(true); err != nil {
		s.sendErrorResponse(request.Request, FailedToLaunch, "Failed to restart", err.Error())
		return
	}
	s.clearProcessStateHandles()
	s.send(&dap.RestartResponse{Response: *newResponse(request.Request)})
	if s.args.stopOnEntry {
		s.send(&dap.StoppedEvent{
			Event: *newEvent("stopped"),
			Body:  dap.StoppedEventBody{Reason: "entry", ThreadId: vmThreadID, AllThreadsStopped: true},
		})
		return
	}
	s.doCommand(api.Continue, 0)
}

func (s *Server) onThreadsRequest(request *dap.ThreadsRequest) {
	name := "main"
	if state, err := s.debugger.State(true); err == nil && state.CurrentFrame != nil {
		name = state.CurrentFrame.Procedure
	}
	// The DAP spec states that "even if a debug adapter does not support
	// multiple threads, it must implement the threads request and return a
	// single (dummy) thread".
	response := &dap.ThreadsResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ThreadsResponseBody{Threads: []dap.Thread{{Id: vmThreadID, Name: name}}},
	}
	s.send(response)
}

// onStackTraceRequest handles ‘stackTrace’ requests.
func (s *Server) onStackTraceRequest(request *dap.StackTraceRequest) {
	if request.Arguments.ThreadId != vmThreadID {
		s.sendErrorResponse(request.Request, UnableToProduceStackTrace, "Unable to produce stack trace",
			fmt.Sprintf("unknown thread %d", request.Arguments.ThreadId))
		return
	}
	frames := s.debugger.Stacktrace()
	if len(frames) > s.args.stackTraceDepth {
		frames = frames[:s.args.stackTraceDepth]
	}

	stackFrames := make([]dap.StackFrame, len(frames))
	for i, frame := range frames {
		uniqueStackFrameID := s.stackFrameHandles.create(i)
		stackFrames[i] = dap.StackFrame{Id: uniqueStackFrameID, Name: frame.Procedure}
		if frame.Location != nil {
			stackFrames[i].Line = frame.Location.Line
			stackFrames[i].Column = frame.Location.Col
			stackFrames[i].Source = &dap.Source{Name: filepath.Base(frame.Location.File), Path: frame.Location.File}
		} else {
			stackFrames[i].PresentationHint = "subtle"
		}
	}
	total := len(stackFrames)
	if request.Arguments.StartFrame > 0 {
		stackFrames = stackFrames[clamp(request.Arguments.StartFrame, len(stackFrames)):]
	}
	if request.Arguments.Levels > 0 {
		stackFrames = stackFrames[:clamp(request.Arguments.Levels, len(stackFrames))]
	}
	response := &dap.StackTraceResponse{
		Response: *newResponse(request.Request),
		Body:     dap.StackTraceResponseBody{StackFrames: stackFrames, TotalFrames: total},
	}
	s.send(response)
}

// scopeKind identifies the content of a scope returned by onScopesRequest.
type scopeKind int

const (
	scopeVariables scopeKind = iota
	scopeLocals
	scopeStack
)

func (k scopeKind) String() string {
	switch k {
	case scopeVariables:
		return "Variables"
	case scopeLocals:
		return "Locals"
	default:
		return "Stack"
	}
}

// onScopesRequest handles 'scopes' requests. Execution state is only
// available for the innermost frame, outer frames have no scopes.
func (s *Server) onScopesRequest(request *dap.ScopesRequest) {
	sf, ok := s.stackFrameHandles.get(request.Arguments.FrameId)
	if !ok {
		s.sendErrorResponse(request.Request, UnableToListLocals, "Unable to list locals", fmt.Sprintf("unknown frame id %d", request.Arguments.FrameId))
		return
	}

	scopes := []dap.Scope{}
	if sf.(int) == 0 {
		for _, kind := range []scopeKind{scopeVariables, scopeLocals, scopeStack} {
			scopes = append(scopes, dap.Scope{Name: kind.String(), VariablesReference: s.variableHandles.create(kind)})
		}
	}

	response := &dap.ScopesResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ScopesResponseBody{Scopes: scopes},
	}
	s.send(response)
}

// onVariablesRequest handles 'variables' requests.
func (s *Server) onVariablesRequest(request *dap.VariablesRequest) {
	ref, ok := s.variableHandles.get(request.Arguments.VariablesReference)
	if !ok {
		s.sendErrorResponse(request.Request, UnableToLookupVariable, "Unable to lookup variable", fmt.Sprintf("unknown reference %d", request.Arguments.VariablesReference))
		return
	}

	children := []dap.Variable{}
	switch ref.(scopeKind) {
	case scopeVariables:
		for _, v := range s.debugger.Variables("") {
			children = append(children, convertVariable(v))
		}
	case scopeLocals:
		for _, v := range s.debugger.Locals() {
			children = append(children, convertVariable(v))
		}
	case scopeStack:
		state, err := s.debugger.State(false)
		if err != nil {
			s.sendErrorResponse(request.Request, UnableToListStack, "Unable to list stack", err.Error())
			return
		}
		for i, elem := range state.Stack {
			children = append(children, dap.Variable{
				Name:         fmt.Sprintf("[%d]", i),
				Value:        elem,
				Type:         "felt",
				EvaluateName: fmt.Sprintf("stack[%d]", i),
			})
		}
	}
	response := &dap.VariablesResponse{
		Response: *newResponse(request.Request),
		Body:     dap.VariablesResponseBody{Variables: children},
	}
	s.send(response)
}

// convertVariable converts api.Variable to dap.Variable. Debug variables are
// scalars, the reference is always zero.
func convertVariable(v api.Variable) dap.Variable {
	value := v.Value
	if v.Unreadable != "" {
		value = fmt.Sprintf("unreadable <%s>", v.Unreadable)
	}
	return dap.Variable{
		Name:         v.Name,
		Value:        value,
		Type:         "felt",
		EvaluateName: v.Name,
	}
}

// onEvaluateRequest evaluates an expression in the current execution state.
// Supported expressions are debug variable names, stack[N], "mem" followed
// by the arguments of the mem command and "break" followed by a breakpoint
// specification.
func (s *Server) onEvaluateRequest(request *dap.EvaluateRequest) {
	showErrorToUser := request.Arguments.Context != "watch" && request.Arguments.Context != "repl" && request.Arguments.Context != "hover"
	result, err := s.evaluate(strings.TrimSpace(request.Arguments.Expression))
	if err != nil {
		s.sendErrorResponseWithOpts(request.Request, UnableToEvaluateExpression, "Unable to evaluate expression", err.Error(), showErrorToUser)
		if proc.IsFatal(err) {
			s.handleFatal(err)
		}
		return
	}
	response := &dap.EvaluateResponse{
		Response: *newResponse(request.Request),
		Body:     dap.EvaluateResponseBody{Result: result},
	}
	s.send(response)
}

func (s *Server) evaluate(expr string) (string, error) {
	fields := strings.Fields(expr)
	if len(fields) == 0 {
		return "", errors.New("empty expression")
	}
	switch fields[0] {
	case "mem":
		return s.debugger.ReadMemory(fields[1:])
	case "break":
		bp, err := s.debugger.CreateBreakpoint(strings.Join(fields[1:], " "))
		if err != nil {
			return "", err
		}
		return bp.String(), nil
	case "stack":
		state, err := s.debugger.State(false)
		if err != nil {
			return "", err
		}
		return api.FormatStack(state.Stack), nil
	}

	if strings.HasPrefix(expr, "stack[") && strings.HasSuffix(expr, "]") {
		i, err := strconv.Atoi(expr[len("stack[") : len(expr)-1])
		if err != nil {
			return "", fmt.Errorf("invalid stack index in %q", expr)
		}
		state, err := s.debugger.State(false)
		if err != nil {
			return "", err
		}
		if i < 0 || i >= len(state.Stack) {
			return "", fmt.Errorf("stack index %d out of range, the stack has %d elements", i, len(state.Stack))
		}
		return state.Stack[i], nil
	}

	for _, v := range s.debugger.Variables(expr) {
		if v.Name != expr {
			continue
		}
		if v.Unreadable != "" {
			return "", errors.New(v.Unreadable)
		}
		return v.Value, nil
	}
	return "", fmt.Errorf("could not find symbol value for %s", expr)
}

// bytesPerElement is the size of a memory element in readMemory responses,
// elements are encoded as little endian 64 bit integers.
const bytesPerElement = 8

// onReadMemoryRequest reads memory of the current context. The memory
// reference is an element address, offset and count are in bytes.
func (s *Server) onReadMemoryRequest(request *dap.ReadMemoryRequest) {
	base, err := strconv.ParseUint(request.Arguments.MemoryReference, 0, 32)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToReadMemory, "Unable to read memory",
			fmt.Sprintf("invalid memory reference %q", request.Arguments.MemoryReference))
		return
	}
	if request.Arguments.Count < 0 || request.Arguments.Offset < 0 {
		s.sendErrorResponse(request.Request, UnableToReadMemory, "Unable to read memory", "negative offset or count")
		return
	}
	addr := base + uint64(request.Arguments.Offset/bytesPerElement)
	count := (request.Arguments.Count + bytesPerElement - 1) / bytesPerElement
	if addr > 1<<32-1 {
		s.sendErrorResponse(request.Request, UnableToReadMemory, "Unable to read memory", proc.ErrOutOfBounds.Error())
		return
	}

	elems, err := s.debugger.ReadMemoryRange(uint32(addr), count)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToReadMemory, "Unable to read memory", err.Error())
		return
	}
	buf := make([]byte, len(elems)*bytesPerElement)
	for i, e := range elems {
		binary.LittleEndian.PutUint64(buf[i*bytesPerElement:], uint64(e))
	}
	response := &dap.ReadMemoryResponse{
		Response: *newResponse(request.Request),
		Body: dap.ReadMemoryResponseBody{
			Address: fmt.Sprintf("%#x", addr),
			Data:    base64.StdEncoding.EncodeToString(buf[:clamp(request.Arguments.Count, len(buf))]),
		},
	}
	s.send(response)
}

func (s *Server) onLoadedSourcesRequest(request *dap.LoadedSourcesRequest) {
	files := s.debugger.Sources()
	sources := make([]dap.Source, len(files))
	for i, f := range files {
		sources[i] = dap.Source{Name: filepath.Base(f), Path: f}
	}
	s.send(&dap.LoadedSourcesResponse{
		Response: *newResponse(request.Request),
		Body:     dap.LoadedSourcesResponseBody{Sources: sources},
	})
}

func (s *Server) sendErrorResponseWithOpts(request dap.Request, id int, summary, details string, showUser bool) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.Command = request.Command
	er.RequestSeq = request.Seq
	er.Success = false
	er.Message = summary
	er.Body.Error.Id = id
	er.Body.Error.Format = fmt.Sprintf("%s: %s", summary, details)
	er.Body.Error.ShowUser = showUser
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

func (s *Server) sendErrorResponse(request dap.Request, id int, summary, details string) {
	s.sendErrorResponseWithOpts(request, id, summary, details, false)
}

// sendInternalErrorResponse sends an "internal error" response back to the client.
// We only take a seq here because we don't want to make assumptions about the
// kind of message received by the server that this error is a reply to.
func (s *Server) sendInternalErrorResponse(seq int, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.RequestSeq = seq
	er.Success = false
	er.Message = "Internal Error"
	er.Body.Error.Id = InternalError
	er.Body.Error.Format = fmt.Sprintf("%s: %s", er.Message, details)
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

func (s *Server) sendUnsupportedErrorResponse(request dap.Request) {
	s.sendErrorResponse(request, UnsupportedCommand, "Unsupported command",
		fmt.Sprintf("cannot process '%s' request", request.Command))
}

func newResponse(request dap.Request) *dap.Response {
	return &dap.Response{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "response",
		},
		Command:    request.Command,
		RequestSeq: request.Seq,
		Success:    true,
	}
}

func newEvent(event string) *dap.Event {
	return &dap.Event{
		ProtocolMessage: dap.ProtocolMessage{
			Seq:  0,
			Type: "event",
		},
		Event: event,
	}
}

// doCommand resumes the program and reports where it stopped.
func (s *Server) doCommand(name string, count int) {
	state, err := s.debugger.Command(&api.DebuggerCommand{Name: name, Count: count})
	if err != nil {
		s.handleStopOnError(err)
		return
	}
	s.handleStop(state)
}

func (s *Server) clearProcessStateHandles() {
	s.stackFrameHandles.reset()
	s.variableHandles.reset()
}

// handleStopOnError reports a command that could not be carried out. The
// program did not move, the client is told it is stopped where it was,
// followed by an output event with the details of the error.
func (s *Server) handleStopOnError(err error) {
	s.log.Error("command error: ", err)
	s.clearProcessStateHandles()
	if proc.IsFatal(err) {
		s.handleFatal(err)
		return
	}

	e := &dap.StoppedEvent{Event: *newEvent("stopped")}
	e.Body.AllThreadsStopped = true
	e.Body.ThreadId = vmThreadID
	e.Body.Reason = "pause"
	e.Body.Text = err.Error()
	s.send(e)
	s.sendOutput("stderr", fmt.Sprintf("ERROR: %s\n", err))
}

// handleFatal ends the session after an error the debugger can not recover
// from. The diagnostics go to the client as an output event, followed by a
// terminated event.
func (s *Server) handleFatal(err error) {
	s.log.Error("fatal error: ", err)
	s.clearProcessStateHandles()
	s.sendOutput("stderr", fmt.Sprintf("%s\nsession %s\n", s.debugger.Diagnose(err), s.debugger.SessionID()))
	s.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
}

// handleStop resets the stage for refreshing debuggee state
// and sends an appropriate event to the client when execution stops
// due to normal causes (termination, breakpoint, step, etc).
func (s *Server) handleStop(state *api.DebuggerState) {
	s.clearProcessStateHandles()

	var terminated proc.ErrProgramTerminated
	switch {
	case errors.As(state.Err, &terminated):
		s.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
	case state.Exited && state.Err != nil:
		e := &dap.StoppedEvent{Event: *newEvent("stopped")}
		e.Body.Reason = "exception"
		e.Body.Description = "Execution failed"
		e.Body.Text = state.Err.Error()
		e.Body.AllThreadsStopped = true
		e.Body.ThreadId = vmThreadID
		s.send(e)
		s.sendOutput("stderr", fmt.Sprintf("%s\nsession %s\n", s.debugger.Report(), s.debugger.SessionID()))
	case state.Exited:
		s.sendOutput("stdout", fmt.Sprintf("program terminated at cycle %d, outputs: %s\n", state.Cycle, strings.Join(state.Outputs, ", ")))
		s.send(&dap.ExitedEvent{Event: *newEvent("exited"), Body: dap.ExitedEventBody{ExitCode: 0}})
		s.send(&dap.TerminatedEvent{Event: *newEvent("terminated")})
	default:
		e := &dap.StoppedEvent{Event: *newEvent("stopped")}
		e.Body.Reason = stopReason(state.StopReason)
		e.Body.AllThreadsStopped = true
		e.Body.ThreadId = vmThreadID
		for _, bp := range state.Breakpoints {
			e.Body.Description = fmt.Sprintf("breakpoint %d: %s", bp.ID, bp.Spec)
		}
		s.send(e)
	}
}

func (s *Server) sendOutput(category, output string) {
	s.send(&dap.OutputEvent{
		Event: *newEvent("output"),
		Body: dap.OutputEventBody{
			Output:   output,
			Category: category,
		}})
}

// stopReason maps the stop reasons of the debugger to the reasons DAP
// clients know about.
func stopReason(reason string) string {
	switch reason {
	case proc.StopBreakpoint.String():
		return "breakpoint"
	case proc.StopManual.String():
		return "pause"
	case proc.StopFailed.String():
		return "exception"
	case proc.StopLaunched.String():
		return "entry"
	default:
		return "step"
	}
}
