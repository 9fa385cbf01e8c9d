package detections

import (
	"image"
	"image/color"
	"math"
	"runtime"
	"sync"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// Letterbox records how an image was fitted into the square model input so
// that boxes can be mapped back.
type Letterbox struct {
	Gain   float32
	PadX   float32
	PadY   float32
	Width  int
	Height int
}

// letterbox scales img to fit a size×size canvas keeping its aspect ratio and
// pads the remainder with gray.
func letterbox(img image.Image, size int) (*image.NRGBA, Letterbox) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	gain := math.Min(float64(size)/float64(h), float64(size)/float64(w))

	newW := clampInt(int(math.Round(float64(w)*gain)), 1, size)
	newH := clampInt(int(math.Round(float64(h)*gain)), 1, size)

	left := int(math.Round(float64(size-newW)/2 - 0.1))
	top := int(math.Round(float64(size-newH)/2 - 0.1))

	canvas := imaging.New(size, size, color.NRGBA{R: padValue, G: padValue, B: padValue, A: 255})
	if newW == w && newH == h {
		canvas = imaging.Paste(canvas, img, image.Pt(left, top))
	} else {
		resized := resize.Resize(uint(newW), uint(newH), img, resize.Bilinear)
		canvas = imaging.Paste(canvas, resized, image.Pt(left, top))
	}

	return canvas, Letterbox{
		Gain:   float32(gain),
		PadX:   float32(left),
		PadY:   float32(top),
		Width:  w,
		Height: h,
	}
}

// Restore maps a box from model input space back to the original image and
// clips it to the image bounds.
func (lb Letterbox) Restore(box [4]float32) [4]float32 {
	w, h := float32(lb.Width), float32(lb.Height)
	return [4]float32{
		clampF32((box[0]-lb.PadX)/lb.Gain, 0, w),
		clampF32((box[1]-lb.PadY)/lb.Gain, 0, h),
		clampF32((box[2]-lb.PadX)/lb.Gain, 0, w),
		clampF32((box[3]-lb.PadY)/lb.Gain, 0, h),
	}
}

// fillCHW writes the canvas into dst as planar RGB scaled to [0,1].
func fillCHW(canvas *image.NRGBA, dst []float32) {
	width, height := canvas.Bounds().Dx(), canvas.Bounds().Dy()
	channelSize := width * height

	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > height {
		numWorkers = height
	}
	rowsPerWorker := height / numWorkers

	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for w := 0; w < numWorkers; w++ {
		startRow := w * rowsPerWorker
		endRow := startRow + rowsPerWorker
		if w == numWorkers-1 {
			endRow = height
		}

		go func(start, end int) {
			defer wg.Done()
			for y := start; y < end; y++ {
				row := canvas.Pix[y*canvas.Stride:]
				offset := y * width
				for x := 0; x < width; x++ {
					i := offset + x
					p := row[x*4:]
					dst[i] = float32(p[0]) / 255.0
					dst[channelSize+i] = float32(p[1]) / 255.0
					dst[channelSize*2+i] = float32(p[2]) / 255.0
				}
			}
		}(startRow, endRow)
	}

	wg.Wait()
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampF32(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
