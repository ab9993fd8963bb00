package rpc

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
)

// Probe forces cc out of idle and waits until it is ready or ctx ends. It
// is the liveness check of pooled client connections.
func Probe(ctx context.Context, cc *grpc.ClientConn) error {
	cc.Connect()
	for {
		state := cc.GetState()
		switch state {
		case connectivity.Ready:
			return nil
		case connectivity.Shutdown:
			return fmt.Errorf("connection to %s shut down", cc.Target())
		}
		if !cc.WaitForStateChange(ctx, state) {
			return fmt.Errorf("connection to %s stuck in %s", cc.Target(), state)
		}
	}
}
