package transform

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"mrregister/pkg/volume"
)

func TestMatrixRoundTrip(t *testing.T) {
	a := volume.Affine{M: rotationZ(0.25), T: [3]float64{1.5, -3, 0.125}}
	a.M[0][2] = 0.01

	var buf bytes.Buffer
	require.NoError(t, WriteMatrix(&buf, a))
	assert.True(t, strings.HasSuffix(buf.String(), "0 0 0 1\n"))

	got, err := ReadMatrix(&buf)
	require.NoError(t, err)
	assertAffineNear(t, a, got, 1e-11)

	path := filepath.Join(t.TempDir(), "transform.txt")
	require.NoError(t, SaveMatrix(path, a))
	got, err = LoadMatrix(path)
	require.NoError(t, err)
	assertAffineNear(t, a, got, 1e-11)
}

func TestReadMatrixThreeRowsAndComments(t *testing.T) {
	in := "# header\n1 0 0 2\n0 1 0 3\n\n0,0,1,4\n"
	got, err := ReadMatrix(strings.NewReader(in))
	require.NoError(t, err)
	assertAffineNear(t, volume.Translation(r3.Vec{X: 2, Y: 3, Z: 4}), got, 0)
}

func TestReadMatrixRejectsBadInput(t *testing.T) {
	for name, in := range map[string]string{
		"short row":   "1 0 0\n0 1 0 0\n0 0 1 0\n",
		"not numeric": "1 0 0 x\n0 1 0 0\n0 0 1 0\n",
		"two rows":    "1 0 0 0\n0 1 0 0\n",
		"bad last":    "1 0 0 0\n0 1 0 0\n0 0 1 0\n0 0 1 1\n",
	} {
		_, err := ReadMatrix(strings.NewReader(in))
		assert.Error(t, err, name)
	}
	_, err := LoadMatrix(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}
