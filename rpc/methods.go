package rpc

import (
	"context"
	"errors"
	"fmt"

	"github.com/spooky-finn/go-depth-bridge/domain"
	"github.com/spooky-finn/go-depth-bridge/usecase"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

func (s *server) GetMarketDepth(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	key, err := s.validationService.PairKey(in)
	if err != nil {
		return nil, invalidArgument(err)
	}

	data, err := s.hub.Latest(key)
	if err != nil {
		return nil, toStatusError(err)
	}
	return depthOrInternal(data)
}

// SubscribeMarketDepth streams depth data of one pair until the client goes
// away or the pair is stopped.
func (s *server) SubscribeMarketDepth(in *structpb.Struct, stream DepthStreamServer) error {
	key, err := s.validationService.PairKey(in)
	if err != nil {
		return invalidArgument(err)
	}

	sub, err := s.hub.Subscribe(key)
	if err != nil {
		return toStatusError(err)
	}
	defer sub.Unsubscribe()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case data, ok := <-sub.Stream:
			if !ok {
				return nil
			}
			msg, err := depthOrInternal(data)
			if err != nil {
				return err
			}
			if err := stream.Send(msg); err != nil {
				return err
			}
		}
	}
}

func (s *server) SwitchSymbol(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	symbol := stringField(in, "symbol")
	if symbol == "" {
		return nil, status.Error(codes.InvalidArgument, "symbol is required")
	}
	threshold, err := s.validationService.Threshold(in, false)
	if err != nil {
		return nil, invalidArgument(err)
	}

	if err := s.hub.SwitchSymbol(symbol, threshold); err != nil {
		if errors.Is(err, usecase.ErrHubClosed) {
			return nil, toStatusError(err)
		}
		return nil, invalidArgument(err)
	}

	active, value := s.hub.ActiveSymbol()
	pairs := make([]interface{}, 0, len(domain.MarketTypes))
	for _, market := range domain.MarketTypes {
		pairs = append(pairs, domain.PairKey{Symbol: active, Market: market}.String())
	}
	return structOrInternal(map[string]interface{}{
		"symbol":    active,
		"threshold": value.String(),
		"pairs":     pairs,
	})
}

func (s *server) SetThreshold(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	key, err := s.validationService.PairKey(in)
	if err != nil {
		return nil, invalidArgument(err)
	}
	threshold, err := s.validationService.Threshold(in, true)
	if err != nil {
		return nil, invalidArgument(err)
	}

	if err := s.hub.SetThreshold(key, threshold); err != nil {
		return nil, toStatusError(err)
	}
	return structOrInternal(map[string]interface{}{
		"pair":      key.String(),
		"threshold": threshold.String(),
	})
}

func (s *server) Unsubscribe(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	key, err := s.validationService.PairKey(in)
	if err != nil {
		return nil, invalidArgument(err)
	}

	if err := s.hub.Unsubscribe(key); err != nil {
		return nil, toStatusError(err)
	}
	return structOrInternal(map[string]interface{}{"pair": key.String()})
}

// GetStatus returns the status of one pair, or of every active pair when the
// request names none.
func (s *server) GetStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if stringField(in, "pair") == "" && stringField(in, "symbol") == "" {
		statuses := []interface{}{}
		for _, key := range s.hub.Pairs() {
			st, err := s.hub.Status(key)
			if err != nil {
				// stopped between Pairs and Status
				continue
			}
			statuses = append(statuses, statusToMap(st))
		}
		return structOrInternal(map[string]interface{}{"statuses": statuses})
	}

	key, err := s.validationService.PairKey(in)
	if err != nil {
		return nil, invalidArgument(err)
	}
	st, err := s.hub.Status(key)
	if err != nil {
		return nil, toStatusError(err)
	}
	return structOrInternal(statusToMap(st))
}

func (s *server) GetOrderBookSnapshot(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	key, err := s.validationService.PairKey(in)
	if err != nil {
		return nil, invalidArgument(err)
	}
	maxDepth, err := s.validationService.MaxDepth(in)
	if err != nil {
		return nil, invalidArgument(err)
	}

	snapshot, err := s.hub.OrderBookSnapshot(ctx, key, maxDepth)
	if err != nil {
		if code := status.Code(toStatusError(err)); code != codes.Internal {
			return nil, toStatusError(err)
		}
		return nil, status.Error(codes.Unavailable, fmt.Sprintf("snapshot of %s: %v", key, err))
	}

	msg, err := snapshotToStruct(snapshot)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return msg, nil
}

func depthOrInternal(data *domain.MarketDepthData) (*structpb.Struct, error) {
	msg, err := depthToStruct(data)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return msg, nil
}

func structOrInternal(fields map[string]interface{}) (*structpb.Struct, error) {
	msg, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return msg, nil
}
