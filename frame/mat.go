package frame

import (
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ToMat copies the frame into an 8-bit single-channel gocv.Mat for the
// OpenCV-backed estimator. The caller owns the returned Mat and must Close it.
func (f *Frame) ToMat() (gocv.Mat, error) {
	if err := f.Validate(); err != nil {
		return gocv.NewMat(), err
	}

	data := make([]byte, len(f.Pix))
	for i, v := range f.Pix {
		if v < 0 {
			v = 0
		} else if v > 255 {
			v = 255
		}
		data[i] = byte(v + 0.5)
	}

	mat, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8UC1, data)
	if err != nil {
		return gocv.NewMat(), errors.Wrapf(err, "frame %d: convert to Mat", f.Index)
	}
	return mat, nil
}

// FromMat builds a Frame from an 8-bit single-channel Mat. The Mat is not
// retained; pixel data is copied out.
func FromMat(mat gocv.Mat, index int) (*Frame, error) {
	if mat.Empty() {
		return nil, errors.Errorf("frame %d: empty Mat", index)
	}
	if mat.Type() != gocv.MatTypeCV8UC1 {
		return nil, errors.Errorf("frame %d: unsupported Mat type %v, want CV8UC1", index, mat.Type())
	}

	data, err := mat.DataPtrUint8()
	if err != nil {
		return nil, errors.Wrapf(err, "frame %d: read Mat data", index)
	}

	f := New(mat.Cols(), mat.Rows(), index, 0)
	for i, b := range data {
		f.Pix[i] = float32(b)
	}
	return f, nil
}
