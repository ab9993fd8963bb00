package status

import (
	"context"
	"log/slog"
	"strconv"

	"github.com/Jam-Ngai/chatserver/internal/rpc"
)

// Service exposes the Balancer as rpc.StatusServiceServer.
type Service struct {
	balancer *Balancer
	logger   *slog.Logger
}

var _ rpc.StatusServiceServer = (*Service)(nil)

func NewService(b *Balancer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{balancer: b, logger: logger}
}

func (s *Service) GetChatServer(ctx context.Context, req *rpc.GetChatServerRequest) (*rpc.GetChatServerResponse, error) {
	if req.UID <= 0 {
		return &rpc.GetChatServerResponse{Error: rpc.ErrCodeUIDInvalid}, nil
	}
	a, err := s.balancer.Assign(ctx, req.UID)
	if err != nil {
		s.logger.Warn("assign failed", "uid", req.UID, "error", err)
		return &rpc.GetChatServerResponse{Error: rpc.ErrCodeRPCFailed}, nil
	}
	return &rpc.GetChatServerResponse{
		Error: rpc.ErrCodeSuccess,
		Host:  a.Node.Host,
		Port:  strconv.Itoa(a.Node.Port),
		Token: a.Token,
	}, nil
}
