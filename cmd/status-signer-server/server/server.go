package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/status-im/status-signer-go/pkg/session"
	"github.com/status-im/status-signer-go/signal"
)

const writeTimeout = 5 * time.Second

type Server struct {
	logger          *zap.Logger
	service         *session.SignerService
	gatherer        prometheus.Gatherer
	server          *http.Server
	listener        net.Listener
	mux             *http.ServeMux
	connectionsLock sync.Mutex
	connections     map[*websocket.Conn]struct{}
	address         string
}

// NewServer serves service over JSON-RPC. Metrics are read from gatherer,
// prometheus.DefaultGatherer when nil.
func NewServer(logger *zap.Logger, service *session.SignerService, gatherer prometheus.Gatherer) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		logger:      logger.Named("server"),
		service:     service,
		gatherer:    gatherer,
		connections: make(map[*websocket.Conn]struct{}, 1),
	}
}

func (s *Server) Address() string {
	return s.address
}

func (s *Server) Port() (int, error) {
	_, portString, err := net.SplitHostPort(s.address)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(portString)
}

// Setup routes every signal to the websocket clients.
func (s *Server) Setup() {
	signal.SetSignalHandler(s.signalHandler)
}

func (s *Server) signalHandler(data []byte) {
	s.connectionsLock.Lock()
	defer s.connectionsLock.Unlock()

	for connection := range s.connections {
		err := connection.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err == nil {
			err = connection.WriteMessage(websocket.TextMessage, data)
		}
		if err != nil {
			s.logger.Error("failed to write signal message", zap.Error(err))
			s.dropConnection(connection)
		}
	}
}

// dropConnection must be called with connectionsLock held.
func (s *Server) dropConnection(connection *websocket.Conn) {
	delete(s.connections, connection)
	if err := connection.Close(); err != nil {
		s.logger.Error("failed to close connection", zap.Error(err))
	}
}

func (s *Server) Listen(address string) error {
	if s.server != nil {
		return errors.New("server already started")
	}

	_, _, err := net.SplitHostPort(address)
	if err != nil {
		return errors.Wrap(err, "invalid address")
	}

	rpcServer, err := session.CreateRPCServer(s.service)
	if err != nil {
		return errors.Wrap(err, "failed to create RPC server")
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("/signals", s.signals)
	s.mux.Handle("/rpc", rpcServer)
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:              address,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.listener, err = net.Listen("tcp", address)
	if err != nil {
		s.server = nil
		return err
	}

	s.address = s.listener.Addr().String()
	return nil
}

func (s *Server) Serve() {
	err := s.server.Serve(s.listener)
	if !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("server closed with error", zap.Error(err))
	}
}

func (s *Server) Stop(ctx context.Context) {
	signal.ResetSignalHandler()

	s.connectionsLock.Lock()
	for connection := range s.connections {
		s.dropConnection(connection)
	}
	s.connectionsLock.Unlock()

	if w := s.service.Wallet(); w != nil {
		if err := w.Disconnect(); err != nil {
			s.logger.Warn("failed to disconnect hardware wallet", zap.Error(err))
		}
	}

	err := s.server.Shutdown(ctx)
	if err != nil {
		s.logger.Error("failed to shutdown server", zap.Error(err))
	}

	s.server = nil
	s.address = ""
}

func (s *Server) signals(w http.ResponseWriter, r *http.Request) {
	s.connectionsLock.Lock()
	defer s.connectionsLock.Unlock()

	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true // local clients only
		},
	}

	connection, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	s.logger.Debug("new websocket connection")

	s.connections[connection] = struct{}{}
}
