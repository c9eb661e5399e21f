package rpc

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spooky-finn/go-depth-bridge/domain"
	"github.com/spooky-finn/go-depth-bridge/usecase"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var logger = logrus.WithField("component", "rpc")

// MarketDataHub is what the service needs from usecase.MarketDataHub.
type MarketDataHub interface {
	SwitchSymbol(symbol string, threshold decimal.Decimal) error
	SetThreshold(key domain.PairKey, value decimal.Decimal) error
	Subscribe(key domain.PairKey) (*usecase.DepthSubscription, error)
	Unsubscribe(key domain.PairKey) error
	Latest(key domain.PairKey) (*domain.MarketDepthData, error)
	Status(key domain.PairKey) (domain.ConnectionStatus, error)
	Pairs() []domain.PairKey
	ActiveSymbol() (string, decimal.Decimal)
	OrderBookSnapshot(ctx context.Context, key domain.PairKey, limit int) (*domain.OrderBookSnapshot, error)
}

type server struct {
	hub               MarketDataHub
	validationService *ValidationService
}

func NewServer(hub MarketDataHub, conf *ValidationServiceConfig) *server {
	return &server{
		hub:               hub,
		validationService: NewValidationService(conf),
	}
}

// NewGRPCServer returns a grpc server with srv registered and request logging
// installed.
func NewGRPCServer(srv MarketDataServiceServer, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts,
		grpc.ChainUnaryInterceptor(unaryLogger),
		grpc.ChainStreamInterceptor(streamLogger),
	)
	s := grpc.NewServer(opts...)
	RegisterMarketDataServiceServer(s, srv)
	return s
}

func unaryLogger(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	start := time.Now()
	resp, err := handler(ctx, req)

	entry := logger.WithFields(logrus.Fields{
		"method":   info.FullMethod,
		"code":     status.Code(err).String(),
		"duration": time.Since(start),
	})
	if err != nil {
		entry.WithError(err).Warn("request failed")
	} else {
		entry.Debug("request served")
	}
	return resp, err
}

func streamLogger(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	start := time.Now()
	logger.WithField("method", info.FullMethod).Info("stream opened")

	err := handler(srv, ss)
	logger.WithFields(logrus.Fields{
		"method":   info.FullMethod,
		"code":     status.Code(err).String(),
		"duration": time.Since(start),
	}).Info("stream closed")
	return err
}

// toStatusError maps hub errors onto grpc codes.
func toStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, domain.ErrOrderBookNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, usecase.ErrInvalidThreshold):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, usecase.ErrHubClosed):
		return status.Error(codes.Unavailable, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func invalidArgument(err error) error {
	return status.Error(codes.InvalidArgument, err.Error())
}
