package interceptors

import (
	"context"
	"fmt"
	"testing"

	"github.com/arkade-os/solverd/internal/core/application"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	protectedMethod = "/v1/intents"
	healthMethod    = "/grpc.health.v1.Health/Check"
)

func TestReadinessServiceCheck(t *testing.T) {
	t.Run("ignores health checks", func(t *testing.T) {
		r := NewReadinessService(nil)
		require.NoError(t, r.Check(context.Background(), healthMethod))
	})

	t.Run("app not started returns unavailable", func(t *testing.T) {
		r := NewReadinessService(&fakeInfoProvider{})
		err := r.Check(context.Background(), protectedMethod)
		st, ok := status.FromError(err)
		require.True(t, ok)
		require.Equal(t, codes.Unavailable, st.Code())
	})

	t.Run("status error returns failed precondition", func(t *testing.T) {
		r := NewReadinessService(&fakeInfoProvider{err: fmt.Errorf("redis down")})
		r.MarkAppServiceStarted()
		err := r.Check(context.Background(), protectedMethod)
		st, ok := status.FromError(err)
		require.True(t, ok)
		require.Equal(t, codes.FailedPrecondition, st.Code())
	})

	t.Run("stopped app returns unavailable", func(t *testing.T) {
		r := NewReadinessService(&fakeInfoProvider{})
		r.MarkAppServiceStarted()
		r.MarkAppServiceStopped()
		err := r.Check(context.Background(), protectedMethod)
		st, ok := status.FromError(err)
		require.True(t, ok)
		require.Equal(t, codes.Unavailable, st.Code())
	})

	t.Run("ready app allows protected methods", func(t *testing.T) {
		r := NewReadinessService(&fakeInfoProvider{})
		r.MarkAppServiceStarted()
		require.NoError(t, r.Check(context.Background(), protectedMethod))
	})
}

type fakeInfoProvider struct {
	err error
}

func (f *fakeInfoProvider) GetInfo(context.Context) (*application.ServiceInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &application.ServiceInfo{SolverAddress: "0xf0"}, nil
}
