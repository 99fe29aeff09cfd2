package entropy

import (
	"crypto/rand"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEntropy(t *testing.T) {
	t.Run("empty blocks are low", func(t *testing.T) {
		r := require.New(t)

		e := NewEstimator()
		e.Write(make([]byte, 4096))

		r.Equal(0.0, e.Value())
	})

	t.Run("random blocks are high", func(t *testing.T) {
		r := require.New(t)

		e := NewEstimator()
		data := make([]byte, 4096)
		io.ReadFull(rand.Reader, data)
		e.Write(data)

		r.Greater(e.Value(), 5.0)
	})

	t.Run("sparse blocks are low", func(t *testing.T) {
		r := require.New(t)

		e := NewEstimator()
		data := make([]byte, 4096)
		copy(data, []byte("hello"))
		e.Write(data)

		r.Less(e.Value(), 1.0)
	})

	t.Run("zero samples reports zero value", func(t *testing.T) {
		r := require.New(t)

		e := NewEstimator()
		r.Equal(0, e.Samples())
		r.Equal(0.0, e.Value())
	})
}

func TestEntropyStrided(t *testing.T) {
	r := require.New(t)

	e := NewStrided(8)
	data := make([]byte, 4096)
	io.ReadFull(rand.Reader, data)
	e.Write(data)

	r.Equal(512, e.Samples())
	r.Greater(e.Value(), 5.0)
}

func BenchmarkEntropyStrided(b *testing.B) {
	e := NewStrided(DefaultStride)
	data := make([]byte, 0xFFF8)

	for i := 0; i < b.N; i++ {
		e.Write(data)
	}
}
