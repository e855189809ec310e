package api

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"resortwala/internal/config"
)

func startGRPC(t *testing.T, env *apiEnv, cfg *config.APIConfig) *grpc.ClientConn {
	t.Helper()
	logger := zerolog.Nop()
	lis := bufconn.Listen(1 << 20)

	srv, err := newGRPCServer(cfg, env.calendar, lis, &logger)
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func invoke(t *testing.T, ctx context.Context, conn *grpc.ClientConn, method string, req map[string]any) (*structpb.Struct, error) {
	t.Helper()
	in, err := structpb.NewStruct(req)
	require.NoError(t, err)
	out := new(structpb.Struct)
	err = conn.Invoke(ctx, method, in, out)
	return out, err
}

func TestGRPCCheckAvailability(t *testing.T) {
	env := newAPIEnv(t, openConfig())
	cfg := openConfig()
	conn := startGRPC(t, env, &cfg)
	env.createBooking(t, 1, 5, 7)

	out, err := invoke(t, context.Background(), conn, methodCheckAvailability, map[string]any{
		"property_id": 1,
		"check_in":    env.day(6),
		"check_out":   env.day(8),
	})
	require.NoError(t, err)
	assert.False(t, out.GetFields()["available"].GetBoolValue())
	conflicts := out.GetFields()["conflicts"].GetListValue().GetValues()
	require.Len(t, conflicts, 1)
	assert.Equal(t, env.day(6), conflicts[0].GetStringValue())

	out, err = invoke(t, context.Background(), conn, methodCheckAvailability, map[string]any{
		"property_id": 1,
		"check_in":    env.day(7),
		"check_out":   env.day(9),
	})
	require.NoError(t, err)
	assert.True(t, out.GetFields()["available"].GetBoolValue())
}

func TestGRPCErrors(t *testing.T) {
	env := newAPIEnv(t, openConfig())
	cfg := openConfig()
	conn := startGRPC(t, env, &cfg)

	tests := []struct {
		name string
		req  map[string]any
		want codes.Code
	}{
		{"missing property", map[string]any{"check_in": env.day(1), "check_out": env.day(2)}, codes.InvalidArgument},
		{"fractional property", map[string]any{"property_id": 1.5, "check_in": env.day(1), "check_out": env.day(2)}, codes.InvalidArgument},
		{"bad dates", map[string]any{"property_id": 1, "check_in": "soon", "check_out": env.day(2)}, codes.InvalidArgument},
		{"unknown property", map[string]any{"property_id": 42, "check_in": env.day(1), "check_out": env.day(2)}, codes.NotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := invoke(t, context.Background(), conn, methodCheckAvailability, tt.req)
			assert.Equal(t, tt.want, status.Code(err))
		})
	}
}

func TestGRPCGetCalendar(t *testing.T) {
	env := newAPIEnv(t, openConfig())
	cfg := openConfig()
	conn := startGRPC(t, env, &cfg)
	env.createBooking(t, 2, 3, 4)

	out, err := invoke(t, context.Background(), conn, methodGetCalendar, map[string]any{
		"property_id": 2,
		"from":        env.day(2),
		"to":          env.day(5),
	})
	require.NoError(t, err)
	days := out.GetFields()["days"].GetListValue().GetValues()
	require.Len(t, days, 3)
	assert.True(t, days[0].GetStructValue().GetFields()["available"].GetBoolValue())
	held := days[1].GetStructValue().GetFields()
	assert.False(t, held["available"].GetBoolValue())
	assert.Equal(t, "held", held["reason"].GetStringValue())
}

func TestGRPCAuthAndHealth(t *testing.T) {
	env := newAPIEnv(t, openConfig())
	cfg := authConfig()
	conn := startGRPC(t, env, &cfg)
	req := map[string]any{"property_id": 1, "check_in": env.day(1), "check_out": env.day(2)}

	_, err := invoke(t, context.Background(), conn, methodCheckAvailability, req)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.AppendToOutgoingContext(context.Background(), "x-api-key", "vendor-key", "x-api-extra", "vendor-extra")
	_, err = invoke(t, ctx, conn, methodCheckAvailability, req)
	assert.NoError(t, err)

	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: availabilityServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
