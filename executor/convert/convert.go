// Package convert encodes boards into the tensor layout the value network
// expects.
package convert

import (
	"sync"

	"github.com/brensch/twenty48/game"
)

const (
	Width     = game.Size
	Height    = game.Size
	Channels  = game.MaxRank + 1
	FloatSize = Channels * Width * Height
)

var floatPool = sync.Pool{
	New: func() interface{} {
		b := make([]float32, FloatSize)
		return &b
	},
}

func GetFloatBuffer() *[]float32 {
	return floatPool.Get().(*[]float32)
}

func PutFloatBuffer(b *[]float32) {
	floatPool.Put(b)
}

// BoardToFloat32 one-hot encodes b into a pooled slice.
// Output shape: [Channels, Height, Width] (C, H, W), channel = rank, so
// channel 0 marks the empty cells.
// Caller must return it to pool using PutFloatBuffer.
func BoardToFloat32(b game.Board) *[]float32 {
	dataPtr := GetFloatBuffer()
	data := *dataPtr
	clear(data)
	encode(data, b)
	return dataPtr
}

// AppendBoards appends the encoding of every board to dst.
func AppendBoards(dst []float32, boards []game.Board) []float32 {
	for _, b := range boards {
		start := len(dst)
		dst = append(dst, make([]float32, FloatSize)...)
		encode(dst[start:], b)
	}
	return dst
}

func encode(data []float32, b game.Board) {
	for idx := 0; idx < game.Cells; idx++ {
		rank := b.CellAt(idx)
		data[rank*Height*Width+idx] = 1
	}
}
