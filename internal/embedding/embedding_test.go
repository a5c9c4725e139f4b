package embedding

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type fakeEmbedder struct {
	vector []float32
	err    error
}

func (f fakeEmbedder) Embed(context.Context, string) ([]float32, error) {
	return f.vector, f.err
}

func TestEmbed_FixedLength(t *testing.T) {
	short := NewService(fakeEmbedder{vector: []float32{0.5, 0.25}}, 4, zap.NewNop())
	assert.Equal(t, []float32{0.5, 0.25, 0, 0}, short.Embed(context.Background(), "text"))

	long := NewService(fakeEmbedder{vector: []float32{1, 2, 3, 4, 5}}, 3, zap.NewNop())
	assert.Equal(t, []float32{1, 2, 3}, long.Embed(context.Background(), "text"))
}

func TestEmbed_FailureGivesZeroVector(t *testing.T) {
	svc := NewService(fakeEmbedder{err: errors.New("quota")}, 384, zap.NewNop())
	vector := svc.Embed(context.Background(), "text")
	assert.Len(t, vector, 384)
	for _, v := range vector {
		assert.Zero(t, v)
	}
}

func TestEmbed_NoEmbedder(t *testing.T) {
	svc := NewService(nil, 0, zap.NewNop())
	assert.Equal(t, 384, svc.Dimensions())
	assert.Len(t, svc.Embed(context.Background(), "text"), 384)
}
