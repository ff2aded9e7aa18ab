package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var testInfo = &grpc.UnaryServerInfo{FullMethod: "/gridworld.v1.EnvironmentService/Step"}

func TestRecoveryInterceptor(t *testing.T) {
	resp, err := recoveryInterceptor(context.Background(), nil, testInfo, func(ctx context.Context, req interface{}) (interface{}, error) {
		panic("boom")
	})
	assert.Nil(t, resp)
	require.Error(t, err)
	assert.Equal(t, codes.Internal, status.Code(err))
}

func TestRecoveryInterceptorPassesThrough(t *testing.T) {
	resp, err := recoveryInterceptor(context.Background(), "req", testInfo, func(ctx context.Context, req interface{}) (interface{}, error) {
		return req, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "req", resp)
}

func TestLoggingInterceptorReturnsHandlerResult(t *testing.T) {
	want := status.Error(codes.NotFound, "environment not found")
	resp, err := loggingInterceptor(context.Background(), nil, testInfo, func(ctx context.Context, req interface{}) (interface{}, error) {
		return "partial", want
	})
	assert.Equal(t, "partial", resp)
	assert.Equal(t, want, err)

	_, err = loggingInterceptor(context.Background(), nil, testInfo, func(ctx context.Context, req interface{}) (interface{}, error) {
		return nil, errors.New("plain")
	})
	assert.EqualError(t, err, "plain")
}
