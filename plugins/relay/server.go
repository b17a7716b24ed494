package relay

import (
	"context"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"alumet/internal/registry"
	"alumet/pkg/measurement"
)

// OnBuffer is invoked once per successfully decoded forwarded buffer.
type OnBuffer func(sessionID string, buf *measurement.Buffer)

// Server implements RelayServer: it accepts forwarded buffers over gRPC,
// re-registers their metrics against the local registry, and hands the
// decoded buffer to OnBuffer.
type Server struct {
	metrics registry.Sender
	onBuf   OnBuffer
	log     *logrus.Entry

	mu       sync.Mutex
	accepted uint64
	grpcSrv  *grpc.Server
}

// NewServer builds a Server; onBuf may be nil if the caller only cares
// about the accepted-point counter.
func NewServer(metrics registry.Sender, onBuf OnBuffer, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{metrics: metrics, onBuf: onBuf, log: log}
}

// Forward implements RelayServer.
func (s *Server) Forward(ctx context.Context, in *structpb.Struct) (*wrapperspb.UInt32Value, error) {
	sessionID, buf, err := DecodeBuffer(in, s.metrics)
	if err != nil {
		s.log.WithError(err).Warn("relay: rejecting forwarded buffer")
		return nil, err
	}

	s.mu.Lock()
	s.accepted += uint64(buf.Len())
	s.mu.Unlock()

	if s.onBuf != nil {
		s.onBuf(sessionID, buf)
	}
	return wrapperspb.UInt32(uint32(buf.Len())), nil
}

// Accepted returns the running count of points accepted across all
// forwarded buffers.
func (s *Server) Accepted() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// Serve starts a gRPC server on lis and blocks until it stops. Cancel via
// Stop or by closing lis.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.grpcSrv = grpc.NewServer()
	RegisterRelayServer(s.grpcSrv, s)
	srv := s.grpcSrv
	s.mu.Unlock()
	return srv.Serve(lis)
}

// Stop gracefully stops the underlying gRPC server, if Serve has been
// called.
func (s *Server) Stop() {
	s.mu.Lock()
	srv := s.grpcSrv
	s.mu.Unlock()
	if srv != nil {
		srv.GracefulStop()
	}
}
