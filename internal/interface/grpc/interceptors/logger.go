package interceptors

import (
	"context"
	"errors"

	solvererrors "github.com/arkade-os/solverd/pkg/errors"
	log "github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

func unaryLogger(
	ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler,
) (any, error) {
	log.Debugf("gRPC method: %s", info.FullMethod)
	resp, err := handler(ctx, req)
	if err != nil {
		logError(ctx, err)
	}
	return resp, err
}

func streamLogger(
	srv any, stream grpc.ServerStream,
	info *grpc.StreamServerInfo, handler grpc.StreamHandler,
) error {
	log.Debugf("gRPC method: %s", info.FullMethod)
	err := handler(srv, stream)
	if err != nil {
		logError(stream.Context(), err)
	}
	return err
}

// logError only reports internal errors, the others are the caller's business.
func logError(ctx context.Context, err error) {
	var structuredErr solvererrors.Error
	if errors.As(err, &structuredErr) && structuredErr.Code() == solvererrors.INTERNAL_ERROR.Code {
		log.WithContext(ctx).
			WithField("name", structuredErr.CodeName()).
			WithField("code", structuredErr.Code()).
			WithField("metadata", structuredErr.Metadata()).
			Error(structuredErr.Error())
	}
}
