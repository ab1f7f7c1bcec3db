package dap

import (
	"encoding/base64"
	"encoding/binary"
	"flag"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/feltdbg/feltdbg/pkg/logflags"
	protest "github.com/feltdbg/feltdbg/pkg/proc/test"
	"github.com/feltdbg/feltdbg/service"
	"github.com/feltdbg/feltdbg/service/dap/daptest"
	"github.com/google/go-dap"
)

const stopOnEntry bool = true

func TestMain(m *testing.M) {
	var logOutput string
	flag.StringVar(&logOutput, "log-output", "", "configures log output")
	flag.Parse()
	logflags.Setup(logOutput != "", logOutput, "")
	os.Exit(m.Run())
}

// name is for _fixtures/<name>.masm
func runTest(t *testing.T, name string, test func(c *daptest.Client, f protest.Fixture)) {
	fixture := protest.BuildFixture(t, name)

	// Start the DAP server.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	disconnectChan := make(chan struct{})
	server := NewServer(&service.Config{
		Listener:       listener,
		DisconnectChan: disconnectChan,
	})
	server.Run()
	// Give server time to start listening for clients
	time.Sleep(100 * time.Millisecond)

	var stopOnce sync.Once
	// Run a goroutine that stops the server when disconnectChan is signaled.
	// This helps us test that certain events cause the server to stop as
	// expected.
	go func() {
		<-disconnectChan
		stopOnce.Do(func() { server.Stop() })
	}()

	client := daptest.NewClient(listener.Addr().String())
	defer client.Close()

	defer func() {
		stopOnce.Do(func() { server.Stop() })
	}()

	test(client, fixture)
}

func launch(t *testing.T, client *daptest.Client, args map[string]interface{}) {
	t.Helper()
	client.InitializeRequest()
	client.ExpectInitializeResponse(t)

	client.LaunchRequestWithArgs(args)
	client.ExpectInitializedEvent(t)
	if resp := client.ExpectLaunchResponse(t); !resp.Success {
		t.Fatalf("launch failed: %#v", resp)
	}
}

func expectStop(t *testing.T, client *daptest.Client, reason string) *dap.StoppedEvent {
	t.Helper()
	se := client.ExpectStoppedEvent(t)
	if se.Body.Reason != reason || se.Body.ThreadId != vmThreadID || !se.Body.AllThreadsStopped {
		t.Fatalf("got %#v, want Reason=%q ThreadId=1 AllThreadsStopped=true", se.Body, reason)
	}
	return se
}

func expectExit(t *testing.T, client *daptest.Client) {
	t.Helper()
	oe := client.ExpectOutputEvent(t)
	if !strings.HasPrefix(oe.Body.Output, "program terminated") || oe.Body.Category != "stdout" {
		t.Errorf("got %#v, want program termination on stdout", oe.Body)
	}
	if ee := client.ExpectExitedEvent(t); ee.Body.ExitCode != 0 {
		t.Errorf("got %#v, want ExitCode=0", ee)
	}
	client.ExpectTerminatedEvent(t)
}

// TestLaunchStopOnEntry emulates the message exchange of a launch debug
// session with "stopOnEntry" enabled:
// - User selects "Start Debugging":  1 >> initialize
//                                 :  1 << initialize
//                                 :  2 >> launch
//                                 :    << initialized event
//                                 :  2 << launch
//                                 :  3 >> setBreakpoints (empty)
//                                 :  3 << setBreakpoints
//                                 :  4 >> setExceptionBreakpoints (empty)
//                                 :  4 << setExceptionBreakpoints
//                                 :  5 >> configurationDone
// - Program stops upon launching  :    << stopped event
//                                 :  5 << configurationDone
//                                 :  6 >> threads
//                                 :  6 << threads
// - User selects "Step Into"      :  7 >> stepIn
//                                 :  7 << stepIn
//                                 :    << stopped event
// - User selects "Continue"       :  8 >> continue
//                                 :  8 << continue
// - Program runs to completion    :    << output event
//                                 :    << exited event
//                                 :    << terminated event
//                                 :  9 >> disconnect
//                                 :  9 << disconnect
func TestLaunchStopOnEntry(t *testing.T) {
	runTest(t, "addtwo", func(client *daptest.Client, fixture protest.Fixture) {
		client.InitializeRequest()
		initResp := client.ExpectInitializeResponse(t)
		if initResp.Seq != 0 || initResp.RequestSeq != 1 {
			t.Errorf("got %#v, want Seq=0, RequestSeq=1", initResp)
		}
		if !initResp.Body.SupportsReadMemoryRequest || !initResp.Body.SupportsFunctionBreakpoints {
			t.Errorf("got %#v, want readMemory and function breakpoints support", initResp.Body)
		}

		client.LaunchRequest(fixture.Path, stopOnEntry)
		initEvent := client.ExpectInitializedEvent(t)
		if initEvent.Seq != 0 {
			t.Errorf("got %#v, want Seq=0", initEvent)
		}
		launchResp := client.ExpectLaunchResponse(t)
		if launchResp.RequestSeq != 2 {
			t.Errorf("got %#v, want RequestSeq=2", launchResp)
		}

		client.SetBreakpointsRequest(fixture.Path, nil)
		sbpResp := client.ExpectSetBreakpointsResponse(t)
		if sbpResp.RequestSeq != 3 || len(sbpResp.Body.Breakpoints) != 0 {
			t.Errorf("got %#v, want RequestSeq=3, len(Breakpoints)=0", sbpResp)
		}

		client.SetExceptionBreakpointsRequest()
		sebpResp := client.ExpectSetExceptionBreakpointsResponse(t)
		if sebpResp.RequestSeq != 4 {
			t.Errorf("got %#v, want RequestSeq=4", sebpResp)
		}

		client.ConfigurationDoneRequest()
		expectStop(t, client, "entry")
		cdResp := client.ExpectConfigurationDoneResponse(t)
		if cdResp.RequestSeq != 5 {
			t.Errorf("got %#v, want RequestSeq=5", cdResp)
		}

		client.ThreadsRequest()
		tResp := client.ExpectThreadsResponse(t)
		if len(tResp.Body.Threads) != 1 || tResp.Body.Threads[0].Id != vmThreadID {
			t.Errorf("got %#v, want a single thread with id 1", tResp.Body.Threads)
		}

		client.StepInRequest(vmThreadID)
		client.ExpectStepInResponse(t)
		expectStop(t, client, "step")

		client.ContinueRequest(vmThreadID)
		contResp := client.ExpectContinueResponse(t)
		if contResp.RequestSeq != 8 || !contResp.Body.AllThreadsContinued {
			t.Errorf("got %#v, want RequestSeq=8 AllThreadsContinued=true", contResp)
		}
		expectExit(t, client)

		client.DisconnectRequest()
		dResp := client.ExpectDisconnectResponse(t)
		if dResp.RequestSeq != 9 {
			t.Errorf("got %#v, want RequestSeq=9", dResp)
		}
	})
}

func TestSetBreakpointAndInspect(t *testing.T) {
	runTest(t, "locals", func(client *daptest.Client, fixture protest.Fixture) {
		launch(t, client, map[string]interface{}{"program": fixture.Path})

		client.SetBreakpointsRequest(fixture.Path, []int{5})
		sResp := client.ExpectSetBreakpointsResponse(t)
		if len(sResp.Body.Breakpoints) != 1 || !sResp.Body.Breakpoints[0].Verified || sResp.Body.Breakpoints[0].Line != 5 {
			t.Fatalf("got %#v, want a single verified breakpoint at line 5", sResp.Body.Breakpoints)
		}

		client.ConfigurationDoneRequest()
		client.ExpectConfigurationDoneResponse(t)
		expectStop(t, client, "breakpoint")

		client.StackTraceRequest(vmThreadID, 0, 20)
		stResp := client.ExpectStackTraceResponse(t)
		frames := stResp.Body.StackFrames
		if len(frames) < 2 || stResp.Body.TotalFrames != len(frames) {
			t.Fatalf("got %#v, want at least two frames", stResp.Body)
		}
		if frames[0].Name != "locals::store_locals" || frames[0].Line != 5 || frames[0].Source == nil || frames[0].Source.Path != fixture.Path {
			t.Errorf("got %#v, want locals::store_locals at %s:5", frames[0], fixture.Path)
		}

		client.ScopesRequest(frames[0].Id)
		scResp := client.ExpectScopesResponse(t)
		scopes := scResp.Body.Scopes
		if len(scopes) != 3 || scopes[0].Name != "Variables" || scopes[1].Name != "Locals" || scopes[2].Name != "Stack" {
			t.Fatalf("got %#v, want Variables, Locals and Stack scopes", scopes)
		}

		client.ScopesRequest(frames[1].Id)
		if resp := client.ExpectScopesResponse(t); len(resp.Body.Scopes) != 0 {
			t.Errorf("got %#v, want no scopes for an outer frame", resp.Body.Scopes)
		}

		client.VariablesRequest(scopes[1].VariablesReference)
		locals := client.ExpectVariablesResponse(t).Body.Variables
		if len(locals) != 2 || locals[0].Value != "7" || locals[1].Value != "9" {
			t.Errorf("got %#v, want locals 7 and 9", locals)
		}

		client.VariablesRequest(scopes[0].VariablesReference)
		vars := client.ExpectVariablesResponse(t).Body.Variables
		if len(vars) != 2 || vars[0].Name != "first" || vars[0].Value != "7" || vars[1].Name != "n" {
			t.Errorf("got %#v, want first=7 and n", vars)
		}

		client.EvaluateRequest("first", frames[0].Id, "watch")
		if resp := client.ExpectEvaluateResponse(t); resp.Body.Result != "7" {
			t.Errorf("got %#v, want 7", resp.Body)
		}

		client.EvaluateRequest("nosuchvar", frames[0].Id, "watch")
		erResp := client.ExpectErrorResponse(t)
		if erResp.Body.Error.Id != UnableToEvaluateExpression {
			t.Errorf("got %#v, want Id=%d", erResp.Body.Error, UnableToEvaluateExpression)
		}

		client.VariablesRequest(42)
		if erResp := client.ExpectErrorResponse(t); erResp.Body.Error.Id != UnableToLookupVariable {
			t.Errorf("got %#v, want Id=%d", erResp.Body.Error, UnableToLookupVariable)
		}

		client.ContinueRequest(vmThreadID)
		client.ExpectContinueResponse(t)
		expectExit(t, client)

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestFunctionBreakpointsAndStepping(t *testing.T) {
	runTest(t, "countdown", func(client *daptest.Client, fixture protest.Fixture) {
		launch(t, client, map[string]interface{}{"program": fixture.Path, "stopOnEntry": true})

		client.SetFunctionBreakpointsRequest([]string{"countdown", "in nosuchproc extra"})
		fbResp := client.ExpectSetFunctionBreakpointsResponse(t)
		if len(fbResp.Body.Breakpoints) != 2 || !fbResp.Body.Breakpoints[0].Verified || fbResp.Body.Breakpoints[1].Verified {
			t.Fatalf("got %#v, want the first breakpoint verified and the second rejected", fbResp.Body.Breakpoints)
		}

		client.ConfigurationDoneRequest()
		expectStop(t, client, "entry")
		client.ExpectConfigurationDoneResponse(t)

		client.ContinueRequest(vmThreadID)
		client.ExpectContinueResponse(t)
		expectStop(t, client, "breakpoint")

		client.SetFunctionBreakpointsRequest(nil)
		client.ExpectSetFunctionBreakpointsResponse(t)

		client.StepOutRequest(vmThreadID)
		client.ExpectStepOutResponse(t)
		expectStop(t, client, "step")

		client.ContinueRequest(vmThreadID)
		client.ExpectContinueResponse(t)
		expectExit(t, client)

		// Resuming a terminated program only terminates the session.
		client.NextRequest(vmThreadID)
		client.ExpectNextResponse(t)
		client.ExpectTerminatedEvent(t)

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestFatalErrorTerminatesSession(t *testing.T) {
	runTest(t, "addtwo", func(client *daptest.Client, fixture protest.Fixture) {
		launch(t, client, map[string]interface{}{"program": fixture.Path, "stopOnEntry": true})

		// one more breakpoint than there are ids
		names := make([]string, 256)
		for i := range names {
			names[i] = "at " + strconv.Itoa(1000+i)
		}
		client.SetFunctionBreakpointsRequest(names)
		fbResp := client.ExpectSetFunctionBreakpointsResponse(t)
		if len(fbResp.Body.Breakpoints) != 256 || !fbResp.Body.Breakpoints[254].Verified || fbResp.Body.Breakpoints[255].Verified {
			t.Fatalf("expected only the last breakpoint to be rejected")
		}
		oe := client.ExpectOutputEvent(t)
		if oe.Body.Category != "stderr" || !strings.Contains(oe.Body.Output, "unable to allocate a breakpoint id") || !strings.Contains(oe.Body.Output, "Last known state:") {
			t.Errorf("got %#v, want the diagnostics of the fatal error on stderr", oe.Body)
		}
		client.ExpectTerminatedEvent(t)

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestExecutionFailure(t *testing.T) {
	runTest(t, "fail", func(client *daptest.Client, fixture protest.Fixture) {
		launch(t, client, map[string]interface{}{"program": fixture.Path})

		client.ConfigurationDoneRequest()
		client.ExpectConfigurationDoneResponse(t)
		se := expectStop(t, client, "exception")
		if !strings.Contains(se.Body.Text, "error code 12") {
			t.Errorf("got %q, want the assertion error code", se.Body.Text)
		}
		oe := client.ExpectOutputEvent(t)
		if oe.Body.Category != "stderr" || !strings.Contains(oe.Body.Output, "session ") {
			t.Errorf("got %#v, want the failure report on stderr", oe.Body)
		}

		client.StackTraceRequest(vmThreadID, 0, 0)
		frames := client.ExpectStackTraceResponse(t).Body.StackFrames
		if len(frames) == 0 || frames[0].Name != "fail::check" {
			t.Errorf("got %#v, want the failing procedure on top", frames)
		}

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestReadMemoryAndEvaluate(t *testing.T) {
	runTest(t, "memory", func(client *daptest.Client, fixture protest.Fixture) {
		launch(t, client, map[string]interface{}{"program": fixture.Path})

		client.ConfigurationDoneRequest()
		client.ExpectConfigurationDoneResponse(t)
		expectExit(t, client)

		client.ReadMemoryRequest("8", 0, 16)
		rmResp := client.ExpectReadMemoryResponse(t)
		if rmResp.Body.Address != "0x8" {
			t.Errorf("got address %q, want 0x8", rmResp.Body.Address)
		}
		data, err := base64.StdEncoding.DecodeString(rmResp.Body.Data)
		if err != nil {
			t.Fatal(err)
		}
		if len(data) != 16 || binary.LittleEndian.Uint64(data) != 42 || binary.LittleEndian.Uint64(data[8:]) != 0 {
			t.Errorf("got % x, want 42 followed by 0", data)
		}

		client.ReadMemoryRequest("nowhere", 0, 8)
		if erResp := client.ExpectErrorResponse(t); erResp.Body.Error.Id != UnableToReadMemory {
			t.Errorf("got %#v, want Id=%d", erResp.Body.Error, UnableToReadMemory)
		}

		client.EvaluateRequest("mem 48 word", 0, "repl")
		if resp := client.ExpectEvaluateResponse(t); resp.Body.Result != "[1, 2, 3, 4]" {
			t.Errorf("got %#v, want [1, 2, 3, 4]", resp.Body)
		}

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}

func TestRequestsBeforeLaunch(t *testing.T) {
	runTest(t, "addtwo", func(client *daptest.Client, fixture protest.Fixture) {
		client.InitializeRequest()
		client.ExpectInitializeResponse(t)

		client.ThreadsRequest()
		if erResp := client.ExpectErrorResponse(t); erResp.Body.Error.Id != NoDebugIsRunning {
			t.Errorf("got %#v, want Id=%d", erResp.Body.Error, NoDebugIsRunning)
		}

		client.LaunchRequestWithArgs(map[string]interface{}{"stopOnEntry": true})
		erResp := client.ExpectErrorResponse(t)
		if erResp.Body.Error.Id != FailedToLaunch || !strings.Contains(erResp.Body.Error.Format, "program attribute is missing") {
			t.Errorf("got %#v, want Id=%d", erResp.Body.Error, FailedToLaunch)
		}

		client.LaunchRequestWithArgs(map[string]interface{}{"program": 42})
		erResp = client.ExpectErrorResponse(t)
		if erResp.Body.Error.Id != FailedToLaunch || !strings.Contains(erResp.Body.Error.Format, "cannot unmarshal number into \"program\" of type string") {
			t.Errorf("got %#v, want an unmarshal error", erResp.Body.Error)
		}

		client.DisconnectRequest()
		client.ExpectDisconnectResponse(t)
	})
}
