// Package nifti reads and writes single-file NIfTI-1 images (.nii and
// .nii.gz) as volume.Volume values.
//
// Based on the official definition of the nifti1 header,
// https://nifti.nimh.nih.gov/pub/dist/src/niftilib/nifti1.h
package nifti

import (
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"mrregister/pkg/volume"
)

// Header defines the structure of the Nifti1 header.
type Header struct {
	SizeofHdr          int32      // Must be 348
	UnusedDataType     [10]int8   // Unused
	UnusedDbName       [18]int8   // Unused
	UnusedExtents      int32      // Unused
	UnusedSessionError int16      // Unused
	UnusedRegular      int8       // Unused
	DimInfo            int8       // MRI slice ordering
	Dim                [8]int16   // Data array dimensions
	IntentP1           float32    // 1st intent parameter
	IntentP2           float32    // 2nd intent parameter
	IntentP3           float32    // 3rd intent parameter
	IntentCode         int16      // NIFTI_INTENT_* code
	Datatype           int16      // Defines data type
	Bitpix             int16      // Number bits/voxel
	SliceStart         int16      // First slice index
	Pixdim             [8]float32 // Grid spacing
	VoxOffset          float32    // Offset into .nii file
	SclSlope           float32    // Data scaling: slope
	SclInter           float32    // Data scaling: offset
	SliceEnd           int16      // Last slice index
	SliceCode          int8       // Slice timing order
	XyztUnits          int8       // Units of pixdim[1..4]
	CalMax             float32    // Max display intensity
	CalMin             float32    // Min display intensity
	SliceDuration      float32    // Time for 1 slice
	Toffset            float32    // Time axis shift
	UnusedGlmax        int32      // Unused
	UnusedGlmin        int32      // Unused
	Descrip            [80]int8   // Any text you like
	AuxFile            [24]int8   // Auxiliary filename
	QformCode          int16      // NIFTI_XFORM_* code
	SformCode          int16      // NIFTI_XFORM_* code
	QuaternB           float32    // Quaternion b params
	QuaternC           float32    // Quaternion c params
	QuaternD           float32    // Quaternion d params
	QoffsetX           float32    // Quaternion x shift
	QoffsetY           float32    // Quaternion y shift
	QoffsetZ           float32    // Quaternion z shift
	SrowX              [4]float32 // 1st row affine transform
	SrowY              [4]float32 // 2nd row affine transform
	SrowZ              [4]float32 // 3rd row affine transform
	IntentName         [16]int8   // 'name' or meaning of data
	Magic              [4]int8    // Must be "ni1\0" or "n+1\0"
}

const headerSize = 352
const minHeaderSize = 348

// NIfTI-1 datatype codes supported by the reader
const (
	DTUint8   = 2
	DTInt16   = 4
	DTInt32   = 8
	DTFloat32 = 16
	DTFloat64 = 64
	DTInt8    = 256
	DTUint16  = 512
)

var singleFileMagic = [4]int8{110, 43, 49, 0}

// Read loads a NIfTI-1 image. Files ending in .gz are decompressed.
func Read(path string) (*volume.Volume, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decompress %s", path)
		}
		defer gz.Close()
		r = gz
	}

	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	v, err := Decode(raw)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid NIfTI image %s", path)
	}
	return v, nil
}

// Decode parses an in-memory single-file NIfTI-1 image
func Decode(raw []byte) (*volume.Volume, error) {
	h, order, err := readHeader(raw)
	if err != nil {
		return nil, err
	}
	if err := validateHeader(h); err != nil {
		return nil, err
	}

	vh, err := h.volumeHeader()
	if err != nil {
		return nil, err
	}
	data, err := readData(raw, h, order, vh.NumVoxels())
	if err != nil {
		return nil, err
	}

	if h.SclSlope != 0 && !(h.SclSlope == 1 && h.SclInter == 0) {
		m, b := float64(h.SclSlope), float64(h.SclInter)
		for i := range data {
			data[i] = m*data[i] + b
		}
	}
	return volume.NewFromData(vh, data)
}

// readHeader reads the header, detecting the byte order from SizeofHdr
func readHeader(raw []byte) (Header, binary.ByteOrder, error) {
	if len(raw) < minHeaderSize {
		return Header{}, nil, errors.Errorf("file has %d bytes, too short for a NIfTI-1 header", len(raw))
	}
	h := Header{}
	var order binary.ByteOrder = binary.LittleEndian
	if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
		return Header{}, nil, err
	}
	if h.SizeofHdr != minHeaderSize {
		order = binary.BigEndian
		h = Header{}
		if err := binary.Read(bytes.NewReader(raw), order, &h); err != nil {
			return Header{}, nil, err
		}
	}
	return h, order, nil
}

func validateHeader(h Header) error {
	switch {
	case h.SizeofHdr != minHeaderSize:
		return errors.New("invalid header size for nifti-1")
	case h.Magic != singleFileMagic:
		return errors.New("invalid file magic. data must be stored in same file as header")
	case h.Dim[0] < 1 || h.Dim[0] > 7:
		return errors.Errorf("Dim[0] is %d, not in range [1, 7]", h.Dim[0])
	}
	for d := 4; d <= int(h.Dim[0]); d++ {
		if h.Dim[d] > 1 {
			return errors.Errorf("only 3-D images are supported, dimension %d has size %d", d, h.Dim[d])
		}
	}
	return nil
}

// volumeHeader converts the NIfTI geometry (sform, then qform, then pixdim)
// into a voxel-to-scanner header
func (h Header) volumeHeader() (volume.Header, error) {
	var dims [3]int
	for i := 0; i < 3; i++ {
		dims[i] = 1
		if i+1 <= int(h.Dim[0]) && h.Dim[i+1] > 0 {
			dims[i] = int(h.Dim[i+1])
		}
	}

	var spacing [3]float64
	for i := 0; i < 3; i++ {
		spacing[i] = math.Abs(float64(h.Pixdim[i+1]))
		if spacing[i] == 0 {
			spacing[i] = 1
		}
	}

	var vh volume.Header
	switch {
	case h.SformCode > 0:
		a := volume.Affine{}
		rows := [3][4]float32{h.SrowX, h.SrowY, h.SrowZ}
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				a.M[i][j] = float64(rows[i][j])
			}
			a.T[i] = float64(rows[i][3])
		}
		vh = volume.Header{Dims: dims, VoxelToScanner: a}
	case h.QformCode > 0:
		vh = volume.Header{Dims: dims, VoxelToScanner: h.qform(spacing)}
	default:
		vh = volume.NewHeader(dims, spacing, r3.Vec{})
	}
	if err := vh.Validate(); err != nil {
		return volume.Header{}, err
	}
	return vh, nil
}

// qform builds the voxel-to-scanner affine from the quaternion fields
func (h Header) qform(spacing [3]float64) volume.Affine {
	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		n := math.Sqrt(b*b + c*c + d*d)
		b, c, d = b/n, c/n, d/n
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	qfac := 1.0
	if h.Pixdim[0] < 0 {
		qfac = -1
	}

	r := [3][3]float64{
		{a*a + b*b - c*c - d*d, 2 * (b*c - a*d), 2 * (b*d + a*c)},
		{2 * (b*c + a*d), a*a + c*c - b*b - d*d, 2 * (c*d - a*b)},
		{2 * (b*d - a*c), 2 * (c*d + a*b), a*a + d*d - c*c - b*b},
	}
	scale := [3]float64{spacing[0], spacing[1], qfac * spacing[2]}

	var out volume.Affine
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.M[i][j] = r[i][j] * scale[j]
		}
	}
	out.T = [3]float64{float64(h.QoffsetX), float64(h.QoffsetY), float64(h.QoffsetZ)}
	return out
}

func readData(raw []byte, h Header, order binary.ByteOrder, n int) ([]float64, error) {
	offset := int(h.VoxOffset)
	if offset < headerSize {
		offset = headerSize
	}

	var width int
	switch h.Datatype {
	case DTUint8, DTInt8:
		width = 1
	case DTInt16, DTUint16:
		width = 2
	case DTInt32, DTFloat32:
		width = 4
	case DTFloat64:
		width = 8
	default:
		return nil, errors.Errorf("unsupported NIfTI datatype %d", h.Datatype)
	}

	if len(raw) < offset+n*width {
		return nil, errors.Errorf("file has %d bytes, image data needs %d", len(raw), offset+n*width)
	}
	buf := raw[offset : offset+n*width]

	data := make([]float64, n)
	for i := 0; i < n; i++ {
		b := buf[i*width : (i+1)*width]
		switch h.Datatype {
		case DTUint8:
			data[i] = float64(b[0])
		case DTInt8:
			data[i] = float64(int8(b[0]))
		case DTInt16:
			data[i] = float64(int16(order.Uint16(b)))
		case DTUint16:
			data[i] = float64(order.Uint16(b))
		case DTInt32:
			data[i] = float64(int32(order.Uint32(b)))
		case DTFloat32:
			data[i] = float64(math.Float32frombits(order.Uint32(b)))
		case DTFloat64:
			data[i] = math.Float64frombits(order.Uint64(b))
		}
	}
	return data, nil
}

// Write stores v as a little-endian float32 NIfTI-1 image with an sform.
// Paths ending in .gz are compressed.
func Write(path string, v *volume.Volume) error {
	raw, err := Encode(v)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	if strings.HasSuffix(path, ".gz") {
		gz := gzip.NewWriter(f)
		if _, err := gz.Write(raw); err != nil {
			return errors.Wrapf(err, "failed to write %s", path)
		}
		if err := gz.Close(); err != nil {
			return errors.Wrapf(err, "failed to write %s", path)
		}
		return f.Close()
	}
	if _, err := f.Write(raw); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return f.Close()
}

// Encode serialises v as an in-memory single-file NIfTI-1 image
func Encode(v *volume.Volume) ([]byte, error) {
	if err := v.Validate(); err != nil {
		return nil, err
	}

	h := Header{
		SizeofHdr: minHeaderSize,
		Datatype:  DTFloat32,
		Bitpix:    32,
		VoxOffset: headerSize,
		SclSlope:  1,
		XyztUnits: 2, // NIFTI_UNITS_MM
		SformCode: 1,
		Magic:     singleFileMagic,
	}
	h.Dim[0] = 3
	for i := 0; i < 3; i++ {
		h.Dim[i+1] = int16(v.Header.Dims[i])
	}
	for i := 4; i < 8; i++ {
		h.Dim[i] = 1
	}
	h.Pixdim[0] = 1
	sp := v.Header.Spacing()
	for i := 0; i < 3; i++ {
		h.Pixdim[i+1] = float32(sp[i])
	}
	a := v.Header.VoxelToScanner
	rows := []*[4]float32{&h.SrowX, &h.SrowY, &h.SrowZ}
	for i, row := range rows {
		for j := 0; j < 3; j++ {
			row[j] = float32(a.M[i][j])
		}
		row[3] = float32(a.T[i])
	}
	lo, hi := v.MinMax()
	h.CalMin, h.CalMax = float32(lo), float32(hi)

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	buf.Write(make([]byte, headerSize-minHeaderSize))
	out := make([]byte, 4)
	for _, val := range v.Data {
		binary.LittleEndian.PutUint32(out, math.Float32bits(float32(val)))
		buf.Write(out)
	}
	return buf.Bytes(), nil
}
