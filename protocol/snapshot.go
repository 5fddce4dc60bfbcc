package protocol

import (
	"bytes"
	"encoding/json"
	"strings"
)

// PieceType is one of the seven tetromino letters.
type PieceType string

const (
	PieceI PieceType = "I"
	PieceO PieceType = "O"
	PieceT PieceType = "T"
	PieceS PieceType = "S"
	PieceZ PieceType = "Z"
	PieceJ PieceType = "J"
	PieceL PieceType = "L"
)

// ParsePieceType accepts either letter case and reports whether s names a
// known piece.
func ParsePieceType(s string) (PieceType, bool) {
	p := PieceType(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PieceI, PieceO, PieceT, PieceS, PieceZ, PieceJ, PieceL:
		return p, true
	}
	return "", false
}

// Piece is the falling piece with its position on the board.
type Piece struct {
	Type     PieceType `json:"type"`
	X        int       `json:"x"`
	Y        int       `json:"y"`
	Rotation int       `json:"rotation"`
}

// Stats mirrors the engine's running counters.
type Stats struct {
	Level           int     `json:"level"`
	Lines           int     `json:"lines"`
	Score           int     `json:"score"`
	PiecesPerSecond float64 `json:"piecesPerSecond"`
}

// Cell is one board square. Empty cells encode as 0, occupied cells as their
// symbol, or as 1 when the engine supplied no symbol.
type Cell struct {
	Occupied bool
	Symbol   string
}

// OccupiedMarker is the encoding of an occupied cell without a symbol.
const OccupiedMarker = 1

func (c Cell) MarshalJSON() ([]byte, error) {
	switch {
	case !c.Occupied:
		return []byte("0"), nil
	case c.Symbol == "":
		return []byte("1"), nil
	default:
		return json.Marshal(c.Symbol)
	}
}

func (c *Cell) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = Cell{Occupied: s != "", Symbol: s}
		return nil
	}
	var n float64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = Cell{Occupied: n != 0}
	return nil
}

// FrameSnapshot is the visible game state of one engine tick. It is built
// fresh per tick and never mutated afterwards.
type FrameSnapshot struct {
	Board        [][]Cell    `json:"board"`
	CurrentPiece *Piece      `json:"currentPiece"`
	NextPieces   []PieceType `json:"nextPieces"`
	HoldPiece    *PieceType  `json:"holdPiece"`
	Stats        Stats       `json:"stats"`
	Frame        int64       `json:"frame"`
}
