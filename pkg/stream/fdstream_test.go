package stream

import (
	"bytes"
	"testing"

	"github.com/camfw/usbshell/pkg/entropy"
	"github.com/camfw/usbshell/pkg/wire"
	"github.com/stretchr/testify/require"
)

func TestFDToHost(t *testing.T) {
	t.Run("reads until EOF", func(t *testing.T) {
		r := require.New(t)

		ft := &fakeTransfer{
			reads: [][]byte{
				statusWireBytes(0),
				statusWireBytes(0),
			},
		}

		src := bytes.NewReader([]byte("a-file"))
		est := entropy.NewEstimator()
		err := FDToHost(ft, src, est)
		r.NoError(err)
		r.Len(ft.writes, 2)

		var chunk wire.DataMsg
		r.NoError(chunk.Unmarshal(ft.writes[0]))
		r.Equal(uint32(6), chunk.Size)

		var term wire.DataMsg
		r.NoError(term.Unmarshal(ft.writes[1]))
		r.Equal(uint32(0), term.Size)

		r.Equal(6, est.Samples())
	})

	t.Run("host cancel stops before EOF", func(t *testing.T) {
		r := require.New(t)

		ft := &fakeTransfer{
			reads: [][]byte{statusWireBytes(wire.StatusTerminate)},
		}

		src := bytes.NewReader(bytes.Repeat([]byte{0x42}, chunkSize*4))
		err := FDToHost(ft, src, nil)
		r.NoError(err)
		r.Len(ft.writes, 1)
	})
}
