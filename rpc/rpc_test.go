package rpc

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

func TestServer_HealthStatus(t *testing.T) {
	s, err := NewServer("127.0.0.1:0", nil, "decision", "session")
	require.NoError(t, err)
	go s.Start()
	defer s.Stop()

	conn, err := grpc.NewClient(s.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := healthpb.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{Service: service})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("decision"))

	s.SetServing("decision", true)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check("decision"))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("session"))

	s.SetServing("decision", false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check("decision"))
}

func TestServer_InProcessCheck(t *testing.T) {
	s, err := NewServer("127.0.0.1:0", nil, "session")
	require.NoError(t, err)
	defer s.Stop()

	s.SetServing("session", true)
	resp, err := s.Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: "session"})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	_, err = s.Health().Check(context.Background(), &healthpb.HealthCheckRequest{Service: "unknown"})
	assert.Error(t, err)
}

func TestNewServer_AddressInUse(t *testing.T) {
	s, err := NewServer("127.0.0.1:0", nil)
	require.NoError(t, err)
	defer s.Stop()

	_, err = NewServer(s.Addr(), nil)
	assert.Error(t, err)
}
