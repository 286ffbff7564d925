package detector

import (
	"context"
	"errors"
	"fmt"

	"gocv.io/x/gocv"
)

// Strategy prepares a frame in one input representation.
type Strategy struct {
	Name    string
	Prepare func(f Frame, flip bool) (Input, error)
}

// DefaultStrategies returns the input fallback order: Mat first, then an
// encoded JPEG, then raw RGB pixels.
func DefaultStrategies() []Strategy {
	return []Strategy{
		{Name: "mat", Prepare: MatInput},
		{Name: "jpeg", Prepare: EncodedInput},
		{Name: "pixels", Prepare: PixelInput},
	}
}

// MatInput passes the frame through as a Mat.
func MatInput(f Frame, flip bool) (Input, error) {
	return Input{
		Kind:           InputMat,
		Mat:            f.Mat,
		Width:          f.Width(),
		Height:         f.Height(),
		FlipHorizontal: flip,
	}, nil
}

// EncodedInput JPEG-encodes the frame.
func EncodedInput(f Frame, flip bool) (Input, error) {
	data, err := EncodeJPEG(f.Mat)
	if err != nil {
		return Input{}, err
	}
	return Input{
		Kind:           InputEncoded,
		Data:           data,
		Width:          f.Width(),
		Height:         f.Height(),
		FlipHorizontal: flip,
	}, nil
}

// PixelInput converts the frame to packed RGB bytes.
func PixelInput(f Frame, flip bool) (Input, error) {
	code, ok := rgbConversion(f.Mat.Channels())
	if !ok {
		return Input{}, fmt.Errorf("%d channel frame: %w", f.Mat.Channels(), ErrUnsupportedInput)
	}

	rgb := gocv.NewMat()
	defer rgb.Close()
	gocv.CvtColor(*f.Mat, &rgb, code)
	if rgb.Empty() {
		return Input{}, errors.New("convert to rgb: empty result")
	}

	return Input{
		Kind:           InputPixels,
		Data:           rgb.ToBytes(),
		Width:          rgb.Cols(),
		Height:         rgb.Rows(),
		FlipHorizontal: flip,
	}, nil
}

// EncodeJPEG encodes a Mat as JPEG and returns a Go-owned copy of the bytes.
func EncodeJPEG(mat *gocv.Mat) ([]byte, error) {
	if mat == nil || mat.Empty() {
		return nil, ErrInvalidFrame
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *mat)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

func rgbConversion(channels int) (gocv.ColorConversionCode, bool) {
	switch channels {
	case 1:
		return gocv.ColorGrayToRGB, true
	case 3:
		return gocv.ColorBGRToRGB, true
	case 4:
		return gocv.ColorBGRAToRGB, true
	default:
		return 0, false
	}
}

// firstSuccess runs the strategies in order and returns the first result
// the model accepts. When every strategy fails the errors are joined.
func firstSuccess(ctx context.Context, m Model, f Frame, flip bool, strategies []Strategy) ([]Face, error) {
	var errs []error

	for _, s := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		in, err := s.Prepare(f, flip)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}

		faces, err := m.EstimateFaces(ctx, in)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		return faces, nil
	}

	if len(errs) == 0 {
		return nil, errors.New("detector: no strategies configured")
	}
	return nil, fmt.Errorf("detector: all strategies failed: %w", errors.Join(errs...))
}
