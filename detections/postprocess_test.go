package detections

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// identity letterbox for a 640x640 image
var identity = Letterbox{Gain: 1, Width: 640, Height: 640}

type anchor struct {
	cx, cy, w, h float32
	scores       []float32
}

func buildOutput(layout OutputLayout, anchors []anchor) []float32 {
	data := make([]float32, layout.size())
	set := func(row, i int, v float32) {
		if layout.Transposed {
			data[i*(4+layout.NumClasses)+row] = v
		} else {
			data[row*layout.NumAnchors+i] = v
		}
	}
	for i, a := range anchors {
		set(0, i, a.cx)
		set(1, i, a.cy)
		set(2, i, a.w)
		set(3, i, a.h)
		for c, s := range a.scores {
			set(4+c, i, s)
		}
	}
	return data
}

func TestPostprocessEmptyOutput(t *testing.T) {
	layout := OutputLayout{NumClasses: 3, NumAnchors: 10}
	dets, err := Postprocess(make([]float32, layout.size()), layout, identity)
	require.NoError(t, err)
	assert.NotNil(t, dets)
	assert.Empty(t, dets)
}

func TestPostprocessRejectsWrongLength(t *testing.T) {
	layout := OutputLayout{NumClasses: 3, NumAnchors: 10}
	_, err := Postprocess(make([]float32, 5), layout, identity)
	assert.Error(t, err)
}

func TestPostprocessDecodesBoxes(t *testing.T) {
	for _, transposed := range []bool{false, true} {
		layout := OutputLayout{NumClasses: 3, NumAnchors: 4, Transposed: transposed}
		data := buildOutput(layout, []anchor{
			{cx: 100, cy: 100, w: 40, h: 20, scores: []float32{0.1, 0.9, 0.2}},
			{cx: 300, cy: 300, w: 10, h: 10, scores: []float32{0.2, 0.1, 0.1}},
			{cx: 500, cy: 200, w: 20, h: 40, scores: []float32{0.6, 0, 0}},
		})

		dets, err := Postprocess(data, layout, identity)
		require.NoError(t, err)
		require.Len(t, dets, 2)

		assert.Equal(t, 1, dets[0].ClassID)
		assert.InDelta(t, 0.9, dets[0].Confidence, 1e-6)
		assert.Equal(t, [4]float32{80, 90, 120, 110}, dets[0].BBox)

		assert.Equal(t, 0, dets[1].ClassID)
		assert.Equal(t, [4]float32{490, 180, 510, 220}, dets[1].BBox)
	}
}

func TestPostprocessThresholdIsExclusive(t *testing.T) {
	layout := OutputLayout{NumClasses: 1, NumAnchors: 1}
	data := buildOutput(layout, []anchor{{cx: 10, cy: 10, w: 4, h: 4, scores: []float32{ConfThreshold}}})

	dets, err := Postprocess(data, layout, identity)
	require.NoError(t, err)
	assert.Empty(t, dets)
}

func TestPostprocessDropsDegenerateBoxes(t *testing.T) {
	// 640x320 image letterboxed into 640x640: 160px bands above and below.
	lb := Letterbox{Gain: 1, PadY: 160, Width: 640, Height: 320}
	layout := OutputLayout{NumClasses: 1, NumAnchors: 3}
	data := buildOutput(layout, []anchor{
		{cx: 100, cy: 50, w: 40, h: 40, scores: []float32{0.8}},
		{cx: 300, cy: 300, w: 0, h: 20, scores: []float32{0.7}},
		{cx: 300, cy: 240, w: 20, h: 40, scores: []float32{0.9}},
	})

	dets, err := Postprocess(data, layout, lb)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, [4]float32{290, 60, 310, 100}, dets[0].BBox)
	for _, d := range dets {
		assert.Less(t, d.BBox[0], d.BBox[2])
		assert.Less(t, d.BBox[1], d.BBox[3])
	}
}

func TestNonMaxSuppressionPerClass(t *testing.T) {
	candidates := []candidate{
		{box: [4]float32{0, 0, 100, 100}, score: 0.8, class: 0},
		{box: [4]float32{2, 2, 102, 102}, score: 0.9, class: 0},
		{box: [4]float32{1, 1, 101, 101}, score: 0.7, class: 1},
		{box: [4]float32{300, 300, 350, 350}, score: 0.5, class: 0},
	}

	kept := nonMaxSuppression(candidates)
	require.Len(t, kept, 3)
	assert.InDelta(t, 0.9, kept[0].score, 1e-6)
	assert.Equal(t, 1, kept[1].class)
	assert.InDelta(t, 0.5, kept[2].score, 1e-6)
}

func TestNonMaxSuppressionCapsDetections(t *testing.T) {
	candidates := make([]candidate, 0, MaxDetections+50)
	for i := 0; i < MaxDetections+50; i++ {
		x := float32(i * 20)
		candidates = append(candidates, candidate{box: [4]float32{x, 0, x + 10, 10}, score: 0.5})
	}
	assert.Len(t, nonMaxSuppression(candidates), MaxDetections)
}

func TestCalculateIOU(t *testing.T) {
	assert.InDelta(t, 1.0, calculateIOU([4]float32{0, 0, 10, 10}, [4]float32{0, 0, 10, 10}), 1e-6)
	assert.InDelta(t, 0.0, calculateIOU([4]float32{0, 0, 10, 10}, [4]float32{10, 10, 20, 20}), 1e-6)
	assert.InDelta(t, 25.0/175.0, calculateIOU([4]float32{0, 0, 10, 10}, [4]float32{5, 5, 15, 15}), 1e-6)
}
