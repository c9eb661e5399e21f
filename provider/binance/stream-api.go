package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spooky-finn/go-depth-bridge/domain"
)

const depthUpdateEvent = "depthUpdate"

// ErrUnexpectedEvent marks frames that are valid JSON but not depth updates,
// e.g. subscription acks.
var ErrUnexpectedEvent = errors.New("unexpected stream event")

// Message is the combined stream envelope, {"stream": ..., "data": ...}.
type Message[T any] struct {
	Stream string `json:"stream"`
	Data   T      `json:"data"`
}

type DepthUpdateData struct {
	Event         string     `json:"e"`
	EventTime     int64      `json:"E"`
	Symbol        string     `json:"s"`
	FirstUpdateId int64      `json:"U"`
	FinalUpdateId int64      `json:"u"`
	PrevUpdateId  int64      `json:"pu"`
	Bids          [][]string `json:"b"`
	Asks          [][]string `json:"a"`
}

// BinanceStreamAPI opens one raw diff stream per pair, e.g.
// wss://stream.binance.com:9443/ws/btcusdt@depth@100ms.
type BinanceStreamAPI struct {
	client     *BinanceStreamClient
	spotURL    string
	futuresURL string
	speed      string
}

func NewBinanceStreamAPI(client *BinanceStreamClient, spotURL, futuresURL, speed string) *BinanceStreamAPI {
	return &BinanceStreamAPI{
		client:     client,
		spotURL:    strings.TrimRight(spotURL, "/"),
		futuresURL: strings.TrimRight(futuresURL, "/"),
		speed:      speed,
	}
}

func (bs *BinanceStreamAPI) StreamURL(key domain.PairKey) string {
	base := bs.spotURL
	if key.IsFutures() {
		base = bs.futuresURL
	}

	topic := fmt.Sprintf("%s@depth", key.StreamName())
	if bs.speed != "" {
		topic = fmt.Sprintf("%s@%s", topic, bs.speed)
	}
	return fmt.Sprintf("%s/ws/%s", base, topic)
}

func (bs *BinanceStreamAPI) DepthDiffStream(ctx context.Context, key domain.PairKey) (domain.DiffStream, error) {
	stream, err := bs.client.Dial(ctx, bs.StreamURL(key))
	if err != nil {
		return nil, err
	}
	return stream, nil
}

// DecodeUpdate parses a depthUpdate event, raw or wrapped in a combined
// stream envelope. Malformed levels fail the whole frame.
func (bs *BinanceStreamAPI) DecodeUpdate(msg []byte) (*domain.OrderBookUpdate, error) {
	return DecodeDepthUpdate(msg)
}

func DecodeDepthUpdate(msg []byte) (*domain.OrderBookUpdate, error) {
	var envelope struct {
		Stream string          `json:"stream"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(msg, &envelope); err != nil {
		return nil, fmt.Errorf("decode depth update: %w", err)
	}
	if envelope.Stream != "" && len(envelope.Data) > 0 {
		msg = envelope.Data
	}

	var data DepthUpdateData
	if err := json.Unmarshal(msg, &data); err != nil {
		return nil, fmt.Errorf("decode depth update: %w", err)
	}
	if data.Event != depthUpdateEvent {
		return nil, fmt.Errorf("%w: %q", ErrUnexpectedEvent, data.Event)
	}

	bids, err := domain.ParsePriceLevels(data.Bids)
	if err != nil {
		return nil, fmt.Errorf("decode depth update bids: %w", err)
	}
	asks, err := domain.ParsePriceLevels(data.Asks)
	if err != nil {
		return nil, fmt.Errorf("decode depth update asks: %w", err)
	}

	return &domain.OrderBookUpdate{
		Symbol:            data.Symbol,
		FirstUpdateID:     data.FirstUpdateId,
		FinalUpdateID:     data.FinalUpdateId,
		PrevFinalUpdateID: data.PrevUpdateId,
		EventTime:         time.UnixMilli(data.EventTime),
		Bids:              bids,
		Asks:              asks,
	}, nil
}
