package visualization

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/image/tiff"
	"gonum.org/v1/gonum/spatial/r3"

	"mrregister/pkg/volume"
)

func newTestVolume(width, height, depth int, fill func(x, y, z int) float64) *volume.Volume {
	v := volume.New(volume.NewHeader([3]int{width, height, depth}, [3]float64{1, 1, 2}, r3.Vec{}))
	for z := 0; z < depth; z++ {
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				v.Set(x, y, z, fill(x, y, z))
			}
		}
	}
	return v
}

// TestNewViewer verifies that the intensity window spans the volume range
func TestNewViewer(t *testing.T) {
	vol := newTestVolume(10, 10, 5, func(x, y, z int) float64 {
		return float64(x+y+z) - 3
	})

	viewer := NewViewer(vol)

	if viewer.lo != -3 {
		t.Errorf("Expected window low -3, got %f", viewer.lo)
	}

	if viewer.hi != 19 {
		t.Errorf("Expected window high 19, got %f", viewer.hi)
	}

	if viewer.vol != vol {
		t.Errorf("Expected viewer to reference the volume")
	}
}

// TestExtractSlice verifies that slices are correctly extracted from the volume
func TestExtractSlice(t *testing.T) {
	width, height, depth := 10, 10, 5

	// each slice along Z has a unique value
	vol := newTestVolume(width, height, depth, func(x, y, z int) float64 {
		return float64(z) * 100
	})
	viewer := NewViewer(vol)

	for z := 0; z < depth; z++ {
		img, err := viewer.ExtractSlice("z", z)
		if err != nil {
			t.Fatalf("Failed to extract Z slice at position %d: %v", z, err)
		}

		bounds := img.Bounds()
		if bounds.Dx() != width || bounds.Dy() != height {
			t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d",
				width, height, bounds.Dx(), bounds.Dy())
		}

		gray16Img, ok := img.(*image.Gray16)
		if !ok {
			t.Fatalf("Expected *image.Gray16, got %T", img)
		}

		expectedValue := uint16(float64(z) / float64(depth-1) * 65535)
		centerValue := gray16Img.Gray16At(width/2, height/2).Y
		diff := int(centerValue) - int(expectedValue)
		if diff < -1 || diff > 1 {
			t.Errorf("Expected Z slice value ~%d at center, got %d",
				expectedValue, centerValue)
		}
	}

	imgX, err := viewer.ExtractSlice("x", width/2)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	boundsX := imgX.Bounds()
	if boundsX.Dx() != depth || boundsX.Dy() != height {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d",
			depth, height, boundsX.Dx(), boundsX.Dy())
	}

	imgY, err := viewer.ExtractSlice("y", height/2)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	boundsY := imgY.Bounds()
	if boundsY.Dx() != width || boundsY.Dy() != depth {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d",
			width, depth, boundsY.Dx(), boundsY.Dy())
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}

	if _, err := viewer.ExtractSlice("z", depth+1); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}

	if _, err := viewer.ExtractSlice("x", -1); err == nil {
		t.Error("Expected error for negative position, got nil")
	}
}

// TestConstantVolumeIsBlack verifies that an empty window does not divide by zero
func TestConstantVolumeIsBlack(t *testing.T) {
	vol := newTestVolume(4, 4, 4, func(x, y, z int) float64 { return 7 })
	img, err := NewViewer(vol).ExtractSlice("z", 1)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}
	if v := img.(*image.Gray16).Gray16At(1, 1).Y; v != 0 {
		t.Errorf("Expected black pixel, got %d", v)
	}
}

// TestSaveSlice verifies that slices can be saved to disk and read back
func TestSaveSlice(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	tempDir := t.TempDir()

	vol := newTestVolume(10, 8, 5, func(x, y, z int) float64 { return float64(x * y) })
	viewer := NewViewer(vol)

	img, err := viewer.ExtractSlice("z", 0)
	if err != nil {
		t.Fatalf("Failed to extract slice: %v", err)
	}

	filename := filepath.Join(tempDir, "test_slice.tif")
	if err := viewer.SaveSlice(img, filename); err != nil {
		t.Fatalf("Failed to save slice: %v", err)
	}

	f, err := os.Open(filename)
	if err != nil {
		t.Fatalf("Saved file cannot be opened: %v", err)
	}
	defer f.Close()

	decoded, err := tiff.Decode(f)
	if err != nil {
		t.Fatalf("Failed to decode saved slice: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Errorf("Expected bounds %v, got %v", img.Bounds(), decoded.Bounds())
	}
}

// TestSaveSliceSequence verifies that a sequence of slices can be saved
func TestSaveSliceSequence(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	vol := newTestVolume(5, 5, 3, func(x, y, z int) float64 { return 0.5 })
	viewer := NewViewer(vol)

	outputDir := filepath.Join(t.TempDir(), "slices")
	if err := viewer.SaveSliceSequence("z", outputDir); err != nil {
		t.Fatalf("Failed to save slice sequence: %v", err)
	}

	for z := 0; z < 3; z++ {
		filename := filepath.Join(outputDir, fmt.Sprintf("slice_z_%03d.tif", z))
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Expected slice file does not exist: %s", filename)
		}
	}

	if err := viewer.SaveSliceSequence("invalid", outputDir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}

// TestSaveMidSlices verifies that the three orthogonal centre slices are written
func TestSaveMidSlices(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping file I/O test in short mode")
	}

	vol := newTestVolume(6, 5, 4, func(x, y, z int) float64 { return float64(x + y + z) })
	outputDir := filepath.Join(t.TempDir(), "debug")
	if err := NewViewer(vol).SaveMidSlices(outputDir, "level1_midway"); err != nil {
		t.Fatalf("Failed to save mid slices: %v", err)
	}

	for _, axis := range []string{"x", "y", "z"} {
		filename := filepath.Join(outputDir, "level1_midway_"+axis+".tif")
		if _, err := os.Stat(filename); os.IsNotExist(err) {
			t.Errorf("Expected slice file does not exist: %s", filename)
		}
	}
}
