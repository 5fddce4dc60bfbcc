package snapshot

import "github.com/wfunc/tetbridge/protocol"

// QueuePreview is how many upcoming pieces a snapshot carries.
const QueuePreview = 5

// Encode builds the FrameSnapshot for ctx. It has no side effects and shares
// no memory with ctx, so encoding the same context twice yields equal
// snapshots. Unknown piece letters are dropped rather than reported.
func Encode(ctx EngineContext) protocol.FrameSnapshot {
	snap := protocol.FrameSnapshot{
		Board:      encodeBoard(ctx.Board),
		NextPieces: make([]protocol.PieceType, 0, QueuePreview),
		Stats:      ctx.Stats,
		Frame:      ctx.Frame,
	}

	if ctx.Falling != nil {
		if t, ok := protocol.ParsePieceType(ctx.Falling.Type); ok {
			snap.CurrentPiece = &protocol.Piece{
				Type:     t,
				X:        ctx.Falling.X,
				Y:        ctx.Falling.Y,
				Rotation: ctx.Falling.Rotation,
			}
		}
	}

	if t, ok := protocol.ParsePieceType(ctx.Hold); ok {
		snap.HoldPiece = &t
	}

	for _, name := range ctx.Queue {
		if len(snap.NextPieces) == QueuePreview {
			break
		}
		if t, ok := protocol.ParsePieceType(name); ok {
			snap.NextPieces = append(snap.NextPieces, t)
		}
	}
	return snap
}

func encodeBoard(board [][]EngineCell) [][]protocol.Cell {
	out := make([][]protocol.Cell, len(board))
	for y, row := range board {
		out[y] = make([]protocol.Cell, len(row))
		for x, cell := range row {
			if cell.Filled {
				out[y][x] = protocol.Cell{Occupied: true, Symbol: cell.Symbol}
			}
		}
	}
	return out
}
