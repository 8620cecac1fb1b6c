package interceptors

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/arkade-os/solverd/internal/core/application"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	healthServiceMethodPrefix = "/grpc.health.v1.Health/"

	solverNotReadyMsg = "solver not ready: service is starting or stopping"
)

type InfoProvider interface {
	GetInfo(ctx context.Context) (*application.ServiceInfo, error)
}

// ReadinessService gates the admin API calls until the app service is started
// and its live store answers. Health checks always pass.
type ReadinessService struct {
	info       InfoProvider
	appStarted atomic.Bool
}

func NewReadinessService(info InfoProvider) *ReadinessService {
	return &ReadinessService{info: info}
}

func (r *ReadinessService) MarkAppServiceStarted() {
	r.appStarted.Store(true)
}

func (r *ReadinessService) MarkAppServiceStopped() {
	r.appStarted.Store(false)
}

func (r *ReadinessService) Check(ctx context.Context, fullMethod string) error {
	if r == nil || !isProtectedServiceMethod(fullMethod) {
		return nil
	}
	if !r.appStarted.Load() {
		return status.Error(codes.Unavailable, solverNotReadyMsg)
	}
	if r.info == nil {
		return status.Error(codes.Unavailable, "solver status unavailable")
	}
	if _, err := r.info.GetInfo(ctx); err != nil {
		return status.Errorf(codes.FailedPrecondition, "solver status unavailable: %v", err)
	}
	return nil
}

func isProtectedServiceMethod(fullMethod string) bool {
	return !strings.HasPrefix(fullMethod, healthServiceMethodPrefix)
}
