// panic.go recovers from panics and converts them into proper gRPC errors instead of crashing the server.
// the panic errors are converted to INTERNAL_ERROR errors and stack traces are logged.
package interceptors

import (
	"runtime/debug"

	grpc_recovery "github.com/grpc-ecosystem/go-grpc-middleware/recovery"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func recoveryHandler(p any) error {
	log.Errorf("panic-recovery middleware recovered from panic: %v", p)
	log.Errorf("stack trace: %v", string(debug.Stack()))
	return status.Error(codes.Internal, "something went wrong")
}

func unaryPanicRecoveryInterceptor() grpc.UnaryServerInterceptor {
	return grpc_recovery.UnaryServerInterceptor(
		grpc_recovery.WithRecoveryHandler(recoveryHandler),
	)
}

func streamPanicRecoveryInterceptor() grpc.StreamServerInterceptor {
	return grpc_recovery.StreamServerInterceptor(
		grpc_recovery.WithRecoveryHandler(recoveryHandler),
	)
}
