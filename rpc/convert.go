package rpc

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/spooky-finn/go-depth-bridge/domain"
	"github.com/spooky-finn/go-depth-bridge/helpers"
	"google.golang.org/protobuf/types/known/structpb"
)

// Update ids travel as strings, the proto JSON form of int64.

func depthToStruct(data *domain.MarketDepthData) (*structpb.Struct, error) {
	ratios := make([]interface{}, 0, len(data.Ratios))
	for _, r := range data.Ratios {
		ratios = append(ratios, map[string]interface{}{
			"label":     r.Label,
			"lowerPct":  r.LowerPct,
			"upperPct":  r.UpperPct,
			"ratio":     r.Ratio,
			"bidVolume": r.BidVolume.String(),
			"askVolume": r.AskVolume.String(),
			"delta":     r.Delta.String(),
		})
	}

	return structpb.NewStruct(map[string]interface{}{
		"pair":         data.Key().String(),
		"symbol":       data.Symbol,
		"market":       string(data.Market),
		"bids":         levelsToList(data.Bids),
		"asks":         levelsToList(data.Asks),
		"midPrice":     nullDecimal(data.MidPrice),
		"spread":       nullDecimal(data.Spread),
		"maxQuantity":  data.MaxQuantity.String(),
		"ratios":       ratios,
		"bigOrders":    levelsToList(data.BigOrders),
		"lastUpdateId": helpers.IntToString(data.LastUpdateID),
		"updatedAt":    formatTime(data.UpdatedAt),
		"status":       statusToMap(data.Status),
	})
}

func statusToMap(s domain.ConnectionStatus) map[string]interface{} {
	return map[string]interface{}{
		"pair":              s.Pair.String(),
		"state":             string(s.State),
		"connected":         s.Connected,
		"reconnectAttempts": s.ReconnectAttempts,
		"quality":           string(s.Quality),
		"lastUpdate":        formatTime(s.LastUpdate),
		"lastError":         s.LastError,
	}
}

func snapshotToStruct(snapshot *domain.OrderBookSnapshot) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"source":       string(snapshot.Source),
		"lastUpdateId": helpers.IntToString(snapshot.LastUpdateId),
		"bids":         rawLevelsToList(snapshot.Bids),
		"asks":         rawLevelsToList(snapshot.Asks),
	})
}

func levelsToList(levels []domain.PriceLevel) []interface{} {
	list := make([]interface{}, 0, len(levels))
	for _, level := range levels {
		list = append(list, map[string]interface{}{
			"price":    level.Price.String(),
			"quantity": level.Quantity.String(),
		})
	}
	return list
}

func rawLevelsToList(levels [][]string) []interface{} {
	list := make([]interface{}, 0, len(levels))
	for _, level := range levels {
		if len(level) < 2 {
			continue
		}
		list = append(list, map[string]interface{}{
			"price":    level[0],
			"quantity": level[1],
		})
	}
	return list
}

func nullDecimal(d decimal.NullDecimal) interface{} {
	if !d.Valid {
		return nil
	}
	return d.Decimal.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
