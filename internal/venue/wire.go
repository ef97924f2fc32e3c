// wire.go parses each venue's raw WS payload into the normalized shapes the
// Order Book Maintainer and Position Tracker consume. The maker venue
// delivers delta book frames {bids:[{price,size}],asks:[{price,size}]};
// the taker venue delivers Binance-style depthUpdate frames at 100ms
// cadence. Order-update events are expected already in the engine's
// normalized shape (venue-specific translation is an adapter concern
// outside this module's scope, per spec).
package venue

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"arbd/pkg/types"
)

type wireLevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

func (l wireLevel) toLevel() (types.PriceLevel, error) {
	p, err := decimal.NewFromString(l.Price)
	if err != nil {
		return types.PriceLevel{}, fmt.Errorf("parse price %q: %w", l.Price, err)
	}
	sz, err := decimal.NewFromString(l.Size)
	if err != nil {
		return types.PriceLevel{}, fmt.Errorf("parse size %q: %w", l.Size, err)
	}
	return types.PriceLevel{Price: p, Size: sz}, nil
}

func toLevels(ws []wireLevel) ([]types.PriceLevel, error) {
	out := make([]types.PriceLevel, 0, len(ws))
	for _, w := range ws {
		lvl, err := w.toLevel()
		if err != nil {
			return nil, err
		}
		out = append(out, lvl)
	}
	return out, nil
}

// makerBookFrame is the maker venue's native delta wire shape.
type makerBookFrame struct {
	Bids []wireLevel `json:"bids"`
	Asks []wireLevel `json:"asks"`
	Seq  int64       `json:"sequence"`
}

// envelope discriminates message kinds on the maker venue's stream.
type envelope struct {
	Type string `json:"type"`
}

// ParseMakerFrame parses a maker-venue WS message into a BookFrame or an
// OrderUpdate, dispatching on the "type" discriminator field.
func ParseMakerFrame(mode types.BookStreamMode) FrameParser {
	return func(raw []byte) (*types.BookFrame, *types.OrderUpdate, error) {
		var env envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, nil, fmt.Errorf("maker envelope: %w", err)
		}

		switch env.Type {
		case "order":
			var update types.OrderUpdate
			if err := json.Unmarshal(raw, &update); err != nil {
				return nil, nil, fmt.Errorf("maker order update: %w", err)
			}
			return nil, &update, nil
		default:
			var wf makerBookFrame
			if err := json.Unmarshal(raw, &wf); err != nil {
				return nil, nil, fmt.Errorf("maker book frame: %w", err)
			}
			bids, err := toLevels(wf.Bids)
			if err != nil {
				return nil, nil, err
			}
			asks, err := toLevels(wf.Asks)
			if err != nil {
				return nil, nil, err
			}
			frame := &types.BookFrame{Mode: mode, Sequence: wf.Seq, Bids: bids, Asks: asks}
			return frame, nil, nil
		}
	}
}

// takerDepthUpdate is the Binance-style depth frame the taker venue sends
// at 100ms cadence: {e:"depthUpdate", s:symbol, b:[[p,q]], a:[[p,q]]}.
type takerDepthUpdate struct {
	EventType string     `json:"e"`
	Symbol    string     `json:"s"`
	Bids      [][]string `json:"b"`
	Asks      [][]string `json:"a"`
	FinalSeq  int64      `json:"u"`
}

// ParseTakerFrame parses a taker-venue WS message. Non-depthUpdate frames
// (e.g. account/order events, which this engine expects already normalized)
// fall through to OrderUpdate parsing.
func ParseTakerFrame(mode types.BookStreamMode) FrameParser {
	return func(raw []byte) (*types.BookFrame, *types.OrderUpdate, error) {
		var probe struct {
			EventType string `json:"e"`
		}
		if err := json.Unmarshal(raw, &probe); err != nil {
			return nil, nil, fmt.Errorf("taker envelope: %w", err)
		}

		if probe.EventType != "depthUpdate" {
			var update types.OrderUpdate
			if err := json.Unmarshal(raw, &update); err != nil {
				return nil, nil, fmt.Errorf("taker order update: %w", err)
			}
			return nil, &update, nil
		}

		var du takerDepthUpdate
		if err := json.Unmarshal(raw, &du); err != nil {
			return nil, nil, fmt.Errorf("taker depth update: %w", err)
		}

		bids, err := pairsToLevels(du.Bids)
		if err != nil {
			return nil, nil, err
		}
		asks, err := pairsToLevels(du.Asks)
		if err != nil {
			return nil, nil, err
		}
		frame := &types.BookFrame{Mode: mode, Sequence: du.FinalSeq, Bids: bids, Asks: asks}
		return frame, nil, nil
	}
}

func pairsToLevels(pairs [][]string) ([]types.PriceLevel, error) {
	out := make([]types.PriceLevel, 0, len(pairs))
	for _, pair := range pairs {
		if len(pair) < 2 {
			return nil, fmt.Errorf("malformed level pair: %v", pair)
		}
		p, err := decimal.NewFromString(pair[0])
		if err != nil {
			return nil, fmt.Errorf("parse price %q: %w", pair[0], err)
		}
		sz, err := decimal.NewFromString(pair[1])
		if err != nil {
			return nil, fmt.Errorf("parse size %q: %w", pair[1], err)
		}
		out = append(out, types.PriceLevel{Price: p, Size: sz})
	}
	return out, nil
}
