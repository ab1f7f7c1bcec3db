package service

import (
	"net"

	"github.com/feltdbg/feltdbg/service/debugger"
)

// Config provides the configuration to start a Debugger and expose it with a
// service.
type Config struct {
	// Listener is used to serve requests.
	Listener net.Listener

	// Debugger is the configuration of the debugger started by the
	// service. Launch requests may override parts of it.
	Debugger debugger.Config

	// DisconnectChan will be closed by the server when the client disconnects
	DisconnectChan chan<- struct{}
}
