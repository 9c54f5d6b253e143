package embedding

import (
	"context"
	"encoding/binary"
	"math"
	"math/rand/v2"

	"github.com/go-crypt/x/blake2b"
)

// HashProvider produces deterministic pseudo-random unit vectors from the text
// digest. It needs no network and is meant for development and tests.
type HashProvider struct {
	dims int
}

func NewHashProvider(dims int) *HashProvider {
	return &HashProvider{dims: dims}
}

func (h *HashProvider) Model() string { return "hash-blake2b" }

func (h *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = HashVector(t, h.dims)
	}
	return out, nil
}

// HashVector is the vector HashProvider returns for text.
func HashVector(text string, dims int) []float32 {
	d, _ := blake2b.New(16, nil)
	d.Write([]byte(text))
	sum := d.Sum(nil)

	r := rand.New(rand.NewPCG(binary.LittleEndian.Uint64(sum[:8]), binary.LittleEndian.Uint64(sum[8:])))
	v := make([]float32, dims)
	var norm float64
	for i := range v {
		x := r.Float64()*2 - 1
		v[i] = float32(x)
		norm += x * x
	}
	if norm == 0 {
		return v
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range v {
		v[i] *= scale
	}
	return v
}
