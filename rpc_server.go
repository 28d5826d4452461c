package daqsync

import (
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
)

// SessionControl is the sub-server that lets another process watch and stop
// a running acquisition session.
type SessionControl struct {
	session *Session
	status  StatusPublisher
}

// Status reports the state of the session.
func (s *SessionControl) Status(dummy *string, reply *SessionStatus) error {
	*reply = s.session.Status()
	return nil
}

// Stop stops the session, waiting until its tasks are cleared.
func (s *SessionControl) Stop(dummy *string, reply *bool) error {
	UpdateLogger.Printf("Stop requested over RPC")
	err := s.session.Stop()
	*reply = (err == nil)
	return err
}

// SendAllStatus causes a broadcast to clients containing all broadcastable status info
func (s *SessionControl) SendAllStatus(dummy *string, reply *bool) error {
	if s.status == nil {
		return fmt.Errorf("no status publisher is running")
	}
	s.status.Publish("STATUS", s.session.Status())
	*reply = true
	return nil
}

// NewRPCServer returns an RPC server with a SessionControl for the session registered.
func NewRPCServer(session *Session, status StatusPublisher) (*rpc.Server, error) {
	server := rpc.NewServer()
	if err := server.Register(&SessionControl{session: session, status: status}); err != nil {
		return nil, err
	}
	return server, nil
}

// RunRPCServer serves JSON-RPC on the given TCP port until abort is closed.
func RunRPCServer(portrpc int, session *Session, status StatusPublisher, abort <-chan struct{}) error {
	server, err := NewRPCServer(session, status)
	if err != nil {
		return err
	}
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", portrpc))
	if err != nil {
		return fmt.Errorf("listen error: %w", err)
	}
	go func() {
		<-abort
		listener.Close()
	}()
	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept error: %w", err)
		}
		UpdateLogger.Printf("new RPC connection from %s", conn.RemoteAddr())
		go server.ServeCodec(jsonrpc.NewServerCodec(conn))
	}
}
