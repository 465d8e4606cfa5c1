package transform

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"mrregister/pkg/volume"
)

// WriteMatrix writes an affine as four whitespace separated rows, the last
// being 0 0 0 1
func WriteMatrix(w io.Writer, a volume.Affine) error {
	for i := 0; i < 3; i++ {
		if _, err := fmt.Fprintf(w, "%.12g %.12g %.12g %.12g\n", a.M[i][0], a.M[i][1], a.M[i][2], a.T[i]); err != nil {
			return err
		}
	}
	_, err := fmt.Fprintln(w, "0 0 0 1")
	return err
}

// SaveMatrix writes an affine to a text file
func SaveMatrix(path string, a volume.Affine) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "cannot create %s", path)
	}
	if err := WriteMatrix(f, a); err != nil {
		f.Close()
		return errors.Wrapf(err, "cannot write %s", path)
	}
	return f.Close()
}

// ReadMatrix parses a 3x4 or 4x4 matrix in the format written by WriteMatrix.
// Blank lines and lines starting with # are ignored.
func ReadMatrix(r io.Reader) (volume.Affine, error) {
	var rows [][]float64
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ' ' || r == '\t' || r == ','
		})
		if len(fields) != 4 {
			return volume.Affine{}, errors.Errorf("matrix row %d has %d values, expected 4", len(rows)+1, len(fields))
		}
		row := make([]float64, 4)
		for j, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return volume.Affine{}, errors.Wrapf(err, "matrix row %d", len(rows)+1)
			}
			row[j] = v
		}
		rows = append(rows, row)
	}
	if err := sc.Err(); err != nil {
		return volume.Affine{}, err
	}
	if len(rows) != 3 && len(rows) != 4 {
		return volume.Affine{}, errors.Errorf("matrix has %d rows, expected 3 or 4", len(rows))
	}
	if len(rows) == 4 && (rows[3][0] != 0 || rows[3][1] != 0 || rows[3][2] != 0 || rows[3][3] != 1) {
		return volume.Affine{}, errors.New("last matrix row must be 0 0 0 1")
	}
	var a volume.Affine
	for i := 0; i < 3; i++ {
		a.M[i] = [3]float64{rows[i][0], rows[i][1], rows[i][2]}
		a.T[i] = rows[i][3]
	}
	return a, nil
}

// LoadMatrix reads an affine from a text file
func LoadMatrix(path string) (volume.Affine, error) {
	f, err := os.Open(path)
	if err != nil {
		return volume.Affine{}, errors.Wrapf(err, "cannot open %s", path)
	}
	defer f.Close()
	a, err := ReadMatrix(f)
	if err != nil {
		return volume.Affine{}, errors.Wrapf(err, "cannot read %s", path)
	}
	return a, nil
}
