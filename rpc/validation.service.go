package rpc

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-depth-bridge/domain"
	"google.golang.org/protobuf/types/known/structpb"
)

type ValidationServiceConfig struct {
	AvailableMarkets []domain.MarketType
}

type ValidationService struct {
	config *ValidationServiceConfig
}

func NewValidationService(config *ValidationServiceConfig) *ValidationService {
	return &ValidationService{
		config: config,
	}
}

func (s *ValidationService) IsSupportedMarket(market domain.MarketType) bool {
	for _, m := range s.config.AvailableMarkets {
		if m == market {
			return true
		}
	}
	return false
}

// PairKey reads the "pair" field ("BTCUSDT_SPOT"), or "symbol" and "market"
// when "pair" is absent.
func (s *ValidationService) PairKey(in *structpb.Struct) (domain.PairKey, error) {
	var (
		key domain.PairKey
		err error
	)

	if pair := stringField(in, "pair"); pair != "" {
		key, err = domain.ParsePairKey(pair)
	} else {
		key, err = domain.NewPairKey(stringField(in, "symbol"), domain.MarketType(stringField(in, "market")))
	}
	if err != nil {
		return domain.PairKey{}, err
	}

	if !s.IsSupportedMarket(key.Market) {
		return domain.PairKey{}, fmt.Errorf("market %s is not supported", key.Market)
	}
	return key, nil
}

// Threshold reads a non-negative quantity given as a decimal string or a
// number. An absent field is zero unless required.
func (s *ValidationService) Threshold(in *structpb.Struct, required bool) (decimal.Decimal, error) {
	v, ok := in.GetFields()["threshold"]
	if !ok {
		if required {
			return decimal.Zero, fmt.Errorf("threshold is required")
		}
		return decimal.Zero, nil
	}

	var (
		threshold decimal.Decimal
		err       error
	)
	switch kind := v.GetKind().(type) {
	case *structpb.Value_StringValue:
		threshold, err = decimal.NewFromString(strings.TrimSpace(kind.StringValue))
	case *structpb.Value_NumberValue:
		threshold = decimal.NewFromFloat(kind.NumberValue)
	default:
		err = fmt.Errorf("must be a string or a number")
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid threshold: %w", err)
	}
	if threshold.IsNegative() {
		return decimal.Zero, fmt.Errorf("threshold must not be negative")
	}
	return threshold, nil
}

// MaxDepth reads an optional level limit, zero meaning the server default.
func (s *ValidationService) MaxDepth(in *structpb.Struct) (int, error) {
	v, ok := in.GetFields()["maxDepth"]
	if !ok {
		return 0, nil
	}

	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue < 0 || n.NumberValue != float64(int(n.NumberValue)) {
		return 0, fmt.Errorf("maxDepth must be a non-negative integer")
	}
	return int(n.NumberValue), nil
}

func stringField(in *structpb.Struct, name string) string {
	return strings.TrimSpace(in.GetFields()[name].GetStringValue())
}
