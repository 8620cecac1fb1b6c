package interceptors

import (
	middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	"google.golang.org/grpc"
)

// The gRPC server only exposes the health service, the admin API is served by
// the gateway behind the readiness gate.

// UnaryInterceptor returns the chain of unary interceptors of the server.
func UnaryInterceptor() grpc.ServerOption {
	return grpc.UnaryInterceptor(unaryChain())
}

// StreamInterceptor returns the chain of stream interceptors of the server.
func StreamInterceptor() grpc.ServerOption {
	return grpc.StreamInterceptor(streamChain())
}

func unaryChain() grpc.UnaryServerInterceptor {
	return middleware.ChainUnaryServer(
		unaryPanicRecoveryInterceptor(),
		unaryLogger,
	)
}

func streamChain() grpc.StreamServerInterceptor {
	return middleware.ChainStreamServer(
		streamPanicRecoveryInterceptor(),
		streamLogger,
	)
}
