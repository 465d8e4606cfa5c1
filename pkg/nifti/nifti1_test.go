package nifti

import (
	"bytes"
	"encoding/binary"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"mrregister/pkg/volume"
)

func testVolume() *volume.Volume {
	h := volume.NewHeader([3]int{5, 4, 3}, [3]float64{1.5, 2, 2.5}, r3.Vec{X: -10, Y: 5, Z: 2})
	h.VoxelToScanner.M[0][1] = 0.25
	v := volume.New(h)
	for i := range v.Data {
		v.Data[i] = float64(i) * 0.5
	}
	return v
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	v := testVolume()
	raw, err := Encode(v)
	require.NoError(t, err)
	assert.Len(t, raw, headerSize+4*v.Header.NumVoxels())

	back, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, v.Header.Dims, back.Header.Dims)
	assert.Less(t, v.Header.VoxelToScanner.MaxAbsDiff(back.Header.VoxelToScanner), 1e-6)
	assert.InDeltaSlice(t, v.Data, back.Data, 1e-6)
}

func TestWriteReadGzip(t *testing.T) {
	dir := t.TempDir()
	v := testVolume()
	for _, name := range []string{"plain.nii", "compressed.nii.gz"} {
		path := filepath.Join(dir, name)
		require.NoError(t, Write(path, v))
		back, err := Read(path)
		require.NoError(t, err, name)
		assert.InDeltaSlice(t, v.Data, back.Data, 1e-6, name)
	}
}

func TestDecodeScaledInt16(t *testing.T) {
	h := Header{
		SizeofHdr: minHeaderSize,
		Datatype:  DTInt16,
		Bitpix:    16,
		VoxOffset: headerSize,
		SclSlope:  2,
		SclInter:  -1,
		Magic:     singleFileMagic,
	}
	h.Dim = [8]int16{3, 2, 1, 1, 1, 1, 1, 1}
	h.Pixdim = [8]float32{1, 3, 3, 3}

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, &h))
	buf.Write(make([]byte, headerSize-minHeaderSize))
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, []int16{5, -7}))

	v, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []float64{9, -15}, v.Data)
	assert.Equal(t, [3]float64{3, 3, 3}, v.Header.Spacing())
}

func TestDecodeBigEndian(t *testing.T) {
	h := Header{
		SizeofHdr: minHeaderSize,
		Datatype:  DTFloat32,
		Bitpix:    32,
		VoxOffset: headerSize,
		Magic:     singleFileMagic,
	}
	h.Dim = [8]int16{3, 1, 1, 2, 1, 1, 1, 1}

	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.BigEndian, &h))
	buf.Write(make([]byte, headerSize-minHeaderSize))
	require.NoError(t, binary.Write(&buf, binary.BigEndian, []float32{1.5, -2}))

	v, err := Decode(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []float64{1.5, -2}, v.Data)
}

func TestDecodeRejectsBadInput(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	assert.Error(t, err)

	raw, err := Encode(testVolume())
	require.NoError(t, err)
	raw[344] = 'x'
	_, err = Decode(raw)
	assert.Error(t, err)
}

func TestQformGeometry(t *testing.T) {
	h := Header{QformCode: 1, QoffsetX: 1, QoffsetY: 2, QoffsetZ: 3}
	h.Pixdim = [8]float32{-1, 2, 2, 2}
	a := h.qform([3]float64{2, 2, 2})
	// identity rotation with qfac = -1 flips z
	assert.InDelta(t, 2, a.M[0][0], 1e-12)
	assert.InDelta(t, 2, a.M[1][1], 1e-12)
	assert.InDelta(t, -2, a.M[2][2], 1e-12)
	assert.Equal(t, [3]float64{1, 2, 3}, a.T)
}
