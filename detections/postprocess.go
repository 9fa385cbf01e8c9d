package detections

import (
	"fmt"
	"sort"

	"github.com/Tutortoise/yolo-detection-service/models"
)

// OutputLayout describes the raw YOLOv8 head output: 4 box rows followed by
// one score row per class, for each anchor. Transposed exports store the same
// values anchor-major.
type OutputLayout struct {
	NumClasses int
	NumAnchors int
	Transposed bool
}

func (l OutputLayout) size() int {
	return (4 + l.NumClasses) * l.NumAnchors
}

func (l OutputLayout) at(data []float32, row, anchor int) float32 {
	if l.Transposed {
		return data[anchor*(4+l.NumClasses)+row]
	}
	return data[row*l.NumAnchors+anchor]
}

type candidate struct {
	box   [4]float32
	score float32
	class int
}

// Postprocess decodes a raw output tensor into detections in original image
// coordinates, ordered by descending confidence.
func Postprocess(data []float32, layout OutputLayout, lb Letterbox) ([]models.Detection, error) {
	if len(data) != layout.size() {
		return nil, fmt.Errorf("unexpected predictions length: got %d, want %d", len(data), layout.size())
	}

	candidates := make([]candidate, 0, 64)
	for i := 0; i < layout.NumAnchors; i++ {
		classID, score := 0, float32(0)
		for c := 0; c < layout.NumClasses; c++ {
			if s := layout.at(data, 4+c, i); s > score {
				score = s
				classID = c
			}
		}
		if score <= ConfThreshold {
			continue
		}

		cx := layout.at(data, 0, i)
		cy := layout.at(data, 1, i)
		w := layout.at(data, 2, i)
		h := layout.at(data, 3, i)
		if w <= 0 || h <= 0 {
			continue
		}

		candidates = append(candidates, candidate{
			box:   [4]float32{cx - w/2, cy - h/2, cx + w/2, cy + h/2},
			score: score,
			class: classID,
		})
	}

	kept := nonMaxSuppression(candidates)

	detections := make([]models.Detection, 0, len(kept))
	for _, c := range kept {
		// Boxes lying in the padding strip collapse once clipped.
		box := lb.Restore(c.box)
		if box[2] <= box[0] || box[3] <= box[1] {
			continue
		}
		detections = append(detections, models.Detection{
			ClassID:    c.class,
			Confidence: c.score,
			BBox:       box,
		})
	}
	return detections, nil
}

// nonMaxSuppression keeps the highest scoring box of every overlapping group
// of the same class.
func nonMaxSuppression(candidates []candidate) []candidate {
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > MaxNMSCandidates {
		candidates = candidates[:MaxNMSCandidates]
	}

	suppressed := make([]bool, len(candidates))
	kept := make([]candidate, 0, len(candidates))

	for i := range candidates {
		if suppressed[i] {
			continue
		}
		kept = append(kept, candidates[i])
		if len(kept) == MaxDetections {
			break
		}

		a := offsetBox(candidates[i])
		for j := i + 1; j < len(candidates); j++ {
			if suppressed[j] {
				continue
			}
			if calculateIOU(a, offsetBox(candidates[j])) > IouThreshold {
				suppressed[j] = true
			}
		}
	}

	return kept
}

func offsetBox(c candidate) [4]float32 {
	off := float32(c.class * maxWH)
	return [4]float32{c.box[0] + off, c.box[1] + off, c.box[2] + off, c.box[3] + off}
}

func calculateIOU(box1, box2 [4]float32) float32 {
	x1 := max(box1[0], box2[0])
	y1 := max(box1[1], box2[1])
	x2 := min(box1[2], box2[2])
	y2 := min(box1[3], box2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := (box1[2] - box1[0]) * (box1[3] - box1[1])
	area2 := (box2[2] - box2[0]) * (box2[3] - box2[1])
	union := area1 + area2 - intersection
	if union <= 0 {
		return 0
	}

	return intersection / union
}
