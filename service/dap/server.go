// Package dap implements VSCode's Debug Adaptor Protocol (DAP) for
// inspecting and changing the registers of a stopped process.
// The server listens on a port and communicates with a single client
// over TCP, processing one request at a time.
// For DAP details see https://microsoft.github.io/debug-adapter-protocol.
package dap

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"strconv"

	"github.com/go-delve/regctx/pkg/logflags"
	"github.com/google/go-dap"
)

// Config is the configuration of a DAP server.
type Config struct {
	// Listener is used to accept the client connection. The server takes
	// its ownership.
	Listener net.Listener
	// Target is the process served to the client.
	Target Target
	// DisconnectChan is closed by the server when the client disconnects
	// or requests shutdown.
	DisconnectChan chan<- struct{}
}

// Server implements a DAP server that can accept a single client for
// a single debug session.
// The server operates via two goroutines:
// (1) Main goroutine where the server is created via NewServer(),
// started via Run() and stopped via Stop().
// (2) Run goroutine started from Run() that accepts a client connection,
// reads, decodes and processes each request and sends back events and
// responses.
type Server struct {
	config *Config
	// listener is used to accept the client connection.
	listener net.Listener
	// conn is the accepted client connection.
	conn net.Conn
	// stopChan is closed when the server is Stop()-ed. This can be used to signal
	// to goroutines run by the server that it's time to quit.
	stopChan chan struct{}
	// reader is used to read requests from the connection.
	reader *bufio.Reader
	log    logflags.Logger
	// stackFrameHandles maps frames of each thread to unique ids across all threads.
	stackFrameHandles *handlesMap
	// variableHandles maps register scopes and register sets to unique
	// references.
	variableHandles *variablesHandlesMap
}

// NewServer creates a new DAP Server. It takes an opened Listener
// via config and assumes its ownership. Once config.DisconnectChan is
// closed, Server.Stop() must be called.
func NewServer(config *Config) *Server {
	logger := logflags.DAPLogger()
	logger.Debugf("DAP server listening at %s", config.Listener.Addr())
	return &Server{
		config:            config,
		listener:          config.Listener,
		stopChan:          make(chan struct{}),
		log:               logger,
		stackFrameHandles: newHandlesMap(),
		variableHandles:   newVariablesHandlesMap(),
	}
}

// Stop stops the DAP server, closes the listener and the client
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
}

// signalDisconnect closes config.DisconnectChan if not nil. It can be
// called multiple times but it is not thread-safe, it is only called from
// the run goroutine.
func (s *Server) signalDisconnect() {
	if s.config.DisconnectChan != nil {
		close(s.config.DisconnectChan)
		s.config.DisconnectChan = nil
	}
}

// Run launches a new goroutine where it accepts a client connection
// and starts processing requests from it. Use Stop() to close connection.
// The server does not support multiple clients, serially or in parallel.
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

	switch request := request.(type) {
	case *dap.InitializeRequest:
		s.onInitializeRequest(request)
	case *dap.AttachRequest:
		// The target is already stopped, attaching is a no-op.
		s.send(&dap.AttachResponse{Response: *newResponse(request.Request)})
	case *dap.DisconnectRequest:
		s.onDisconnectRequest(request)
	case *dap.SetExceptionBreakpointsRequest:
		s.send(&dap.SetExceptionBreakpointsResponse{Response: *newResponse(request.Request)})
	case *dap.ConfigurationDoneRequest:
		s.onConfigurationDoneRequest(request)
	case *dap.ThreadsRequest:
		s.onThreadsRequest(request)
	case *dap.StackTraceRequest:
		s.onStackTraceRequest(request)
	case *dap.ScopesRequest:
		s.onScopesRequest(request)
	case *dap.VariablesRequest:
		s.onVariablesRequest(request)
	case *dap.SetVariableRequest:
		s.onSetVariableRequest(request)
	case *dap.ReadMemoryRequest:
		s.onReadMemoryRequest(request)
	case *dap.LaunchRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.ContinueRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.NextRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.StepInRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.StepOutRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.PauseRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.SetBreakpointsRequest:
		s.sendUnsupportedErrorResponse(request.Request)
	case *dap.EvaluateRequest:
		s.sendNotYetImplementedErrorResponse(request.Request)
	default:
		// This is a DAP message that go-dap has a struct for, so
		// decoding succeeded, but this function does not know how
		// to handle.
		s.sendInternalErrorResponse(request.GetSeq(), fmt.Sprintf("Unable to process %#v\n", request))
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
	response.Body.SupportsSetVariable = true
	response.Body.SupportsReadMemoryRequest = true
	s.send(response)
	s.send(&dap.InitializedEvent{Event: *newEvent("initialized")})
}

// onDisconnectRequest handles the DisconnectRequest. Per the protocol,
// it signals that the debug adaptor (in our case this TCP server) can be
// terminated. The target is left as it is.
func (s *Server) onDisconnectRequest(request *dap.DisconnectRequest) {
	s.send(&dap.DisconnectResponse{Response: *newResponse(request.Request)})
	s.signalDisconnect()
}

// onConfigurationDoneRequest reports the target as stopped, it never
// runs while it is being served.
func (s *Server) onConfigurationDoneRequest(request *dap.ConfigurationDoneRequest) {
	tid := 0
	if tids := s.config.Target.ThreadIDs(); len(tids) > 0 {
		tid = tids[0]
	}
	e := &dap.StoppedEvent{
		Event: *newEvent("stopped"),
		Body:  dap.StoppedEventBody{Reason: "entry", ThreadId: tid, AllThreadsStopped: true},
	}
	s.send(e)
	s.send(&dap.ConfigurationDoneResponse{Response: *newResponse(request.Request)})
}

func (s *Server) onThreadsRequest(request *dap.ThreadsRequest) {
	tids := s.config.Target.ThreadIDs()
	if len(tids) == 0 {
		s.sendErrorResponse(request.Request, UnableToDisplayThreads, "Unable to display threads", "process has no threads")
		return
	}
	threads := make([]dap.Thread, len(tids))
	for i, tid := range tids {
		threads[i] = dap.Thread{Id: tid, Name: fmt.Sprintf("Thread %d", tid)}
	}
	response := &dap.ThreadsResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ThreadsResponseBody{Threads: threads},
	}
	s.send(response)
}

// stackFrame represents the index of a frame within
// the context of a stack of a specific thread.
type stackFrame struct {
	threadID   int
	frameIndex int
}

// onStackTraceRequest handles ‘stackTrace’ requests.
func (s *Server) onStackTraceRequest(request *dap.StackTraceRequest) {
	threadID := request.Arguments.ThreadId
	pcs, err := s.config.Target.Stacktrace(threadID)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToProduceStackTrace, "Unable to produce stack trace", err.Error())
		return
	}

	stackFrames := make([]dap.StackFrame, len(pcs))
	for i, pc := range pcs {
		uniqueStackFrameID := s.stackFrameHandles.create(stackFrame{threadID, i})
		stackFrames[i] = dap.StackFrame{
			Id:                          uniqueStackFrameID,
			Name:                        fmt.Sprintf("%#x", pc),
			InstructionPointerReference: fmt.Sprintf("%#x", pc),
			PresentationHint:            "normal",
		}
	}
	if request.Arguments.StartFrame > 0 {
		stackFrames = stackFrames[min(request.Arguments.StartFrame, len(stackFrames)):]
	}
	if request.Arguments.Levels > 0 {
		stackFrames = stackFrames[:min(request.Arguments.Levels, len(stackFrames))]
	}
	response := &dap.StackTraceResponse{
		Response: *newResponse(request.Request),
		Body:     dap.StackTraceResponseBody{StackFrames: stackFrames, TotalFrames: len(pcs)},
	}
	s.send(response)
}

// onScopesRequest handles 'scopes' requests. Every frame has a single
// "Registers" scope.
func (s *Server) onScopesRequest(request *dap.ScopesRequest) {
	sf, ok := s.stackFrameHandles.get(request.Arguments.FrameId)
	if !ok {
		s.sendErrorResponse(request.Request, UnableToListRegisters, "Unable to list registers", fmt.Sprintf("unknown frame id %d", request.Arguments.FrameId))
		return
	}
	frame := sf.(stackFrame)
	rc, err := s.config.Target.FrameRegisterContext(frame.threadID, frame.frameIndex)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToListRegisters, "Unable to list registers", err.Error())
		return
	}
	response := &dap.ScopesResponse{
		Response: *newResponse(request.Request),
		Body:     dap.ScopesResponseBody{Scopes: []dap.Scope{registersScope(rc, s.variableHandles)}},
	}
	s.send(response)
}

// onVariablesRequest handles 'variables' requests.
func (s *Server) onVariablesRequest(request *dap.VariablesRequest) {
	g, ok := s.variableHandles.get(request.Arguments.VariablesReference)
	if !ok {
		s.sendErrorResponse(request.Request, UnableToLookupVariable, "Unable to lookup variable", fmt.Sprintf("unknown reference %d", request.Arguments.VariablesReference))
		return
	}
	children := registerVariables(g, s.variableHandles)
	if request.Arguments.Start > 0 {
		children = children[min(request.Arguments.Start, len(children)):]
	}
	if request.Arguments.Count > 0 {
		children = children[:min(request.Arguments.Count, len(children))]
	}
	response := &dap.VariablesResponse{
		Response: *newResponse(request.Request),
		Body:     dap.VariablesResponseBody{Variables: children},
	}
	s.send(response)
}

// onSetVariableRequest writes a register. Values are unsigned integers in
// any base accepted by strconv.ParseUint.
func (s *Server) onSetVariableRequest(request *dap.SetVariableRequest) {
	g, ok := s.variableHandles.get(request.Arguments.VariablesReference)
	if !ok {
		s.sendErrorResponse(request.Request, UnableToLookupVariable, "Unable to lookup variable", fmt.Sprintf("unknown reference %d", request.Arguments.VariablesReference))
		return
	}
	v, err := setRegister(g, request.Arguments.Name, request.Arguments.Value)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToSetVariable, "Unable to set variable", err.Error())
		return
	}
	response := &dap.SetVariableResponse{Response: *newResponse(request.Request)}
	response.Body.Value = v.Value
	response.Body.Type = v.Type
	s.send(response)
}

// onReadMemoryRequest handles 'readMemory' requests. Memory references
// are addresses, as returned in the instructionPointerReference of
// stack frames.
func (s *Server) onReadMemoryRequest(request *dap.ReadMemoryRequest) {
	addr, err := strconv.ParseUint(request.Arguments.MemoryReference, 0, 64)
	if err != nil {
		s.sendErrorResponse(request.Request, UnableToReadMemory, "Unable to read memory", fmt.Sprintf("invalid memory reference %q", request.Arguments.MemoryReference))
		return
	}
	if request.Arguments.Count < 0 {
		s.sendErrorResponse(request.Request, UnableToReadMemory, "Unable to read memory", "negative count")
		return
	}
	addr += uint64(request.Arguments.Offset)
	buf := make([]byte, request.Arguments.Count)
	n, err := s.config.Target.ReadMemory(buf, addr)
	if n == 0 && err != nil && len(buf) > 0 {
		s.sendErrorResponse(request.Request, UnableToReadMemory, "Unable to read memory", err.Error())
		return
	}
	response := &dap.ReadMemoryResponse{Response: *newResponse(request.Request)}
	response.Body.Address = fmt.Sprintf("%#x", addr)
	response.Body.Data = base64.StdEncoding.EncodeToString(buf[:n])
	response.Body.UnreadableBytes = len(buf) - n
	s.send(response)
}

func (s *Server) sendErrorResponse(request dap.Request, id int, summary, details string) {
	er := &dap.ErrorResponse{}
	er.Type = "response"
	er.Command = request.Command
	er.RequestSeq = request.Seq
	er.Success = false
	er.Message = summary
	er.Body.Error = &dap.ErrorMessage{
		Id:     id,
		Format: fmt.Sprintf("%s: %s", summary, details),
	}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
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
	er.Body.Error = &dap.ErrorMessage{
		Id:     InternalError,
		Format: fmt.Sprintf("%s: %s", er.Message, details),
	}
	s.log.Error(er.Body.Error.Format)
	s.send(er)
}

func (s *Server) sendUnsupportedErrorResponse(request dap.Request) {
	s.sendErrorResponse(request, UnsupportedCommand, "Unsupported command",
		fmt.Sprintf("cannot process '%s' request", request.Command))
}

func (s *Server) sendNotYetImplementedErrorResponse(request dap.Request) {
	s.sendErrorResponse(request, NotYetImplemented, "Not yet implemented",
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
