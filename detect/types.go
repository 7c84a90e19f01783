package detect

import (
	"fmt"
	"math"
	"strings"
)

// Box is a pixel rectangle (X0,Y0)-(X1,Y1). It may extend past the image it was detected on.
type Box struct {
	X0, Y0, X1, Y1 int
}

func (b Box) Width() int  { return b.X1 - b.X0 }
func (b Box) Height() int { return b.Y1 - b.Y0 }


// Detection is one backend result. Values are built once by NewDetection and not modified afterwards.
type Detection struct {
	Box        Box     `json:"box"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// NewDetection orders the corners so that X0<=X1 and Y0<=Y1 and checks the confidence range.
func NewDetection(x0, y0, x1, y1 int, label string, confidence float64) (Detection, error) {
	if math.IsNaN(confidence) || confidence < 0 || confidence > 1 {
		return Detection{}, fmt.Errorf("%w: confidence %v out of [0,1] for %q", ErrProcessing, confidence, label)
	}
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}
	return Detection{
		Box:        Box{X0: x0, Y0: y0, X1: x1, Y1: y1},
		Label:      label,
		Confidence: confidence,
	}, nil
}

// Kind names one backend call (one model).
type Kind string

const (
	KindHead    Kind = "head"
	KindEyes    Kind = "eyes"
	KindFace    Kind = "face"
	KindCensor  Kind = "censor"
	KindNudeNet Kind = "nudenet"
)

// Type is the requested object category.
type Type string

const (
	Head    Type = "head"
	Eyes    Type = "eyes"
	Faces   Type = "faces"
	Censors Type = "censors"
	NudeNet Type = "nudenet"
	Mongo   Type = "mongo"
	Opai    Type = "opai"
	Armpits Type = "armpits"
	Feet    Type = "feet"
)

// Types lists every detection type in declaration order.
var Types = []Type{Head, Eyes, Faces, Censors, NudeNet, Mongo, Opai, Armpits, Feet}

// ParseType accepts a type name case-insensitively.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := routes[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrConfiguration, s)
	}
	return t, nil
}

func (t Type) String() string { return string(t) }
