package registration

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"mrregister/internal/workerpool"
	"mrregister/pkg/filter"
	"mrregister/pkg/nifti"
	"mrregister/pkg/transform"
	"mrregister/pkg/visualization"
	"mrregister/pkg/volume"
)

// dumpLevel writes both working images of a level resliced onto the level's
// sampling grid with the committed parameters, as NIfTI volumes and as TIFF
// mid slices. Aligned images look alike.
func dumpLevel(dir string, level int, t Transform, images LevelImages, symmetric bool, pool *workerpool.Pool) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "creating debug directory")
	}
	half, err := t.HalfFromParameters(t.Parameters())
	if err != nil {
		return err
	}

	// maps from the sampling grid's scanner space into A's and B's
	toA, toB := volume.Identity(), half.Compose(half)
	if symmetric {
		if toA, err = half.Inverse(); err != nil {
			return errors.Wrap(err, "half transform")
		}
		toB = half
	}

	grid := images.Midway.Header
	for _, item := range []struct {
		name string
		src  *volume.Volume
		tr   volume.Affine
	}{
		{"a", images.A, toA},
		{"b", images.B, toB},
	} {
		v, err := filter.Reslice(item.src, grid, item.tr, filter.InterpLinear, pool)
		if err != nil {
			return err
		}
		prefix := fmt.Sprintf("level%d_%s", level+1, item.name)
		if err := nifti.Write(filepath.Join(dir, prefix+".nii.gz"), v); err != nil {
			return err
		}
		if err := visualization.NewViewer(v).SaveMidSlices(dir, prefix); err != nil {
			return errors.Wrapf(err, "saving %s slices", prefix)
		}
	}
	return nil
}

// saveHalfTransforms writes the half transforms and their squares. The
// squared forward half is the full transform; the squared backward half is
// its inverse.
func saveHalfTransforms(dir string, t SymmetricTransform) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "creating debug directory")
	}
	forw := t.Half()
	back, err := t.HalfInverse()
	if err != nil {
		return err
	}
	for name, a := range map[string]volume.Affine{
		"t_forw.txt":         forw,
		"t_forw_squared.txt": forw.Compose(forw),
		"t_back.txt":         back,
		"t_back_squared.txt": back.Compose(back),
	} {
		if err := transform.SaveMatrix(filepath.Join(dir, name), a); err != nil {
			return err
		}
	}
	return nil
}
