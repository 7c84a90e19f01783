package backend

import (
	"fmt"
	"math"

	"AniObjCut/detect"

	"google.golang.org/protobuf/types/known/structpb"
)

// wireDetection is the JSON shape the detector sidecar answers with.
type wireDetection struct {
	Box   [4]float64 `json:"box"`
	Label string     `json:"label"`
	Score float64    `json:"score"`
}

type wireResponse struct {
	Detections []wireDetection `json:"detections"`
}

// maxCoord bounds box coordinates accepted from a detector.
const maxCoord = 1 << 24

func fromWire(raw []wireDetection) ([]detect.Detection, error) {
	out := make([]detect.Detection, 0, len(raw))
	for _, w := range raw {
		for _, v := range w.Box {
			if math.IsNaN(v) || math.IsInf(v, 0) || math.Abs(v) > maxCoord {
				return nil, fmt.Errorf("%w: detector box %v out of range", detect.ErrProcessing, w.Box)
			}
		}
		d, err := detect.NewDetection(
			int(math.Round(w.Box[0])), int(math.Round(w.Box[1])),
			int(math.Round(w.Box[2])), int(math.Round(w.Box[3])),
			w.Label, w.Score)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

// DetectionsToValue encodes detections as a structpb list of {box,label,score}.
func DetectionsToValue(dets []detect.Detection) *structpb.Value {
	values := make([]*structpb.Value, 0, len(dets))
	for _, d := range dets {
		values = append(values, structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"box": structpb.NewListValue(&structpb.ListValue{Values: []*structpb.Value{
				structpb.NewNumberValue(float64(d.Box.X0)),
				structpb.NewNumberValue(float64(d.Box.Y0)),
				structpb.NewNumberValue(float64(d.Box.X1)),
				structpb.NewNumberValue(float64(d.Box.Y1)),
			}}),
			"label": structpb.NewStringValue(d.Label),
			"score": structpb.NewNumberValue(d.Confidence),
		}}))
	}
	return structpb.NewListValue(&structpb.ListValue{Values: values})
}

// DetectionsFromValue is the inverse of DetectionsToValue.
func DetectionsFromValue(v *structpb.Value) ([]detect.Detection, error) {
	list := v.GetListValue()
	if list == nil {
		return nil, nil
	}
	raw := make([]wireDetection, 0, len(list.GetValues()))
	for i, item := range list.GetValues() {
		s := item.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("detection %d is not an object", i)
		}
		box := s.GetFields()["box"].GetListValue().GetValues()
		if len(box) != 4 {
			return nil, fmt.Errorf("detection %d: box has %d coordinates", i, len(box))
		}
		w := wireDetection{
			Label: s.GetFields()["label"].GetStringValue(),
			Score: s.GetFields()["score"].GetNumberValue(),
		}
		for j := range box {
			w.Box[j] = box[j].GetNumberValue()
		}
		raw = append(raw, w)
	}
	return fromWire(raw)
}
