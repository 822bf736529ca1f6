package relay

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"

	"github.com/stars-network/frost-wallet-go/pkg/types"
)

// Server is the minimal rendezvous switchboard: devices register a unique
// id, receive the membership list on every change, and relay opaque
// payloads to each other. It holds no protocol state.
type Server struct {
	logger *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	devices  map[string]*serverConn
	closed   bool
}

// NewServer creates a relay server
func NewServer(logger *zap.Logger) *Server {
	return &Server{
		logger:  logger,
		devices: make(map[string]*serverConn),
	}
}

// Listen binds the server and starts accepting connections in the
// background. It returns the bound address (useful with ":0").
func (s *Server) Listen(addr string) (string, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go s.acceptLoop(listener)
	s.logger.Sugar().Infow("Relay server listening", "addr", listener.Addr().String())
	return listener.Addr().String(), nil
}

// Close stops accepting and disconnects every device
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	listener := s.listener
	conns := make([]*serverConn, 0, len(s.devices))
	for _, c := range s.devices {
		conns = append(conns, c)
	}
	s.devices = make(map[string]*serverConn)
	s.mu.Unlock()

	if listener != nil {
		_ = listener.Close()
	}
	for _, c := range conns {
		_ = c.conn.Close()
	}
	return nil
}

func (s *Server) acceptLoop(listener net.Listener) {
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		go s.serveConn(conn)
	}
}

type serverConn struct {
	conn   net.Conn
	writer *bufio.Writer
	mu     sync.Mutex
}

func (c *serverConn) send(msg *types.ServerMsg) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if _, err := c.writer.Write(data); err != nil {
		return err
	}
	if err := c.writer.WriteByte('\n'); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (s *Server) serveConn(conn net.Conn) {
	sc := &serverConn{conn: conn, writer: bufio.NewWriter(conn)}
	var deviceID string

	defer func() {
		_ = conn.Close()
		if deviceID != "" {
			s.mu.Lock()
			if s.devices[deviceID] == sc {
				delete(s.devices, deviceID)
			}
			s.mu.Unlock()
			s.logger.Sugar().Infow("Device disconnected", "device_id", deviceID)
			s.broadcastDevices()
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg types.ClientMsg
		if err := json.Unmarshal(line, &msg); err != nil {
			_ = sc.send(&types.ServerMsg{Type: types.ServerMsgError, Error: "invalid message"})
			continue
		}

		switch msg.Type {
		case types.ClientMsgRegister:
			s.mu.Lock()
			if _, exists := s.devices[msg.DeviceID]; exists {
				s.mu.Unlock()
				_ = sc.send(&types.ServerMsg{Type: types.ServerMsgError, Error: "device_id already registered"})
				return
			}
			deviceID = msg.DeviceID
			s.devices[deviceID] = sc
			s.mu.Unlock()
			s.logger.Sugar().Infow("Device registered", "device_id", deviceID)
			s.broadcastDevices()

		case types.ClientMsgListDevices:
			_ = sc.send(&types.ServerMsg{Type: types.ServerMsgDevices, Devices: s.deviceList()})

		case types.ClientMsgRelay:
			s.mu.Lock()
			target := s.devices[msg.To]
			s.mu.Unlock()
			if target == nil {
				_ = sc.send(&types.ServerMsg{Type: types.ServerMsgError, Error: fmt.Sprintf("unknown device: %s", msg.To)})
				continue
			}
			_ = target.send(&types.ServerMsg{Type: types.ServerMsgRelay, From: deviceID, Data: msg.Data})

		default:
			_ = sc.send(&types.ServerMsg{Type: types.ServerMsgError, Error: "invalid message"})
		}
	}
}

func (s *Server) deviceList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]string, 0, len(s.devices))
	for id := range s.devices {
		list = append(list, id)
	}
	return list
}

// broadcastDevices pushes the membership list to every connected device
func (s *Server) broadcastDevices() {
	list := s.deviceList()

	s.mu.Lock()
	conns := make([]*serverConn, 0, len(s.devices))
	for _, c := range s.devices {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	msg := &types.ServerMsg{Type: types.ServerMsgDevices, Devices: list}
	for _, c := range conns {
		_ = c.send(msg)
	}
}
