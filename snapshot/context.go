// Package snapshot turns the engine's per-tick context into the canonical
// FrameSnapshot sent to the decision peer.
package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/wfunc/tetbridge/protocol"
)

// EngineContext is the validated view of one engine tick.
type EngineContext struct {
	Frame   int64
	Board   [][]EngineCell
	Falling *FallingPiece
	Hold    string
	Queue   []string
	Stats   protocol.Stats
}

// EngineCell is one board square as reported by the engine.
type EngineCell struct {
	Filled bool
	Symbol string
}

// FallingPiece is the active piece as reported by the engine.
type FallingPiece struct {
	Type     string
	X        int
	Y        int
	Rotation int
}

type rawContext struct {
	Frame   int64               `json:"frame"`
	Board   [][]json.RawMessage `json:"board"`
	Falling *rawPiece           `json:"falling"`
	Hold    json.RawMessage     `json:"hold"`
	Queue   []json.RawMessage   `json:"queue"`
	Stats   rawStats            `json:"stats"`
}

type rawPiece struct {
	Type     string `json:"type"`
	Symbol   string `json:"symbol"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Rotation int    `json:"rotation"`
}

type rawStats struct {
	Level           int     `json:"level"`
	Lines           int     `json:"lines"`
	Score           int     `json:"score"`
	PiecesPerSecond float64 `json:"piecesPerSecond"`
	PPS             float64 `json:"pps"`
}

// ParseEngineContext decodes a driver tick payload. Cell, hold and queue
// entries accept several engine shapes: null/0/false/"" for empty, 1 or true
// for occupied without a symbol, a string symbol, a numeric code (kept as the
// symbol), or an object with a "mino" or "type" field. Shapes it cannot place
// are treated as occupied without a symbol. Only a payload that is not a JSON
// object is an error.
func ParseEngineContext(data []byte) (EngineContext, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return EngineContext{}, fmt.Errorf("%w: tick context is not an object", protocol.ErrMalformedPayload)
	}
	var raw rawContext
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return EngineContext{}, fmt.Errorf("%w: tick context: %v", protocol.ErrMalformedPayload, err)
	}

	ctx := EngineContext{
		Frame: raw.Frame,
		Stats: protocol.Stats{
			Level:           raw.Stats.Level,
			Lines:           raw.Stats.Lines,
			Score:           raw.Stats.Score,
			PiecesPerSecond: raw.Stats.PiecesPerSecond,
		},
	}
	if ctx.Stats.PiecesPerSecond == 0 {
		ctx.Stats.PiecesPerSecond = raw.Stats.PPS
	}

	ctx.Board = make([][]EngineCell, len(raw.Board))
	for y, row := range raw.Board {
		ctx.Board[y] = make([]EngineCell, len(row))
		for x, cell := range row {
			ctx.Board[y][x] = parseCell(cell)
		}
	}

	if raw.Falling != nil {
		t := raw.Falling.Type
		if t == "" {
			t = raw.Falling.Symbol
		}
		ctx.Falling = &FallingPiece{Type: t, X: raw.Falling.X, Y: raw.Falling.Y, Rotation: raw.Falling.Rotation}
	}

	if hold := parseCell(raw.Hold); hold.Filled {
		ctx.Hold = hold.Symbol
	}
	for _, entry := range raw.Queue {
		if c := parseCell(entry); c.Filled && c.Symbol != "" {
			ctx.Queue = append(ctx.Queue, c.Symbol)
		}
	}
	return ctx, nil
}

func parseCell(raw json.RawMessage) EngineCell {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return EngineCell{}
	}
	switch raw[0] {
	case 'n', 'f':
		return EngineCell{}
	case 't':
		return EngineCell{Filled: true}
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return EngineCell{Filled: true}
		}
		s = strings.TrimSpace(s)
		if s == "" || s == "0" {
			return EngineCell{}
		}
		return EngineCell{Filled: true, Symbol: s}
	case '{':
		var obj struct {
			Mino string `json:"mino"`
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &obj); err != nil {
			return EngineCell{Filled: true}
		}
		if obj.Mino != "" {
			return EngineCell{Filled: true, Symbol: obj.Mino}
		}
		return EngineCell{Filled: true, Symbol: obj.Type}
	default:
		var n float64
		if err := json.Unmarshal(raw, &n); err != nil {
			return EngineCell{Filled: true}
		}
		switch n {
		case 0:
			return EngineCell{}
		case protocol.OccupiedMarker:
			return EngineCell{Filled: true}
		}
		// Other numeric codes are kept verbatim as the symbol.
		return EngineCell{Filled: true, Symbol: string(raw)}
	}
}
