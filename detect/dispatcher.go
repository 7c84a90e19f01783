package detect

import (
	"context"
	"fmt"
)

// Backend runs one detection model over the image stored at imagePath. Results come back in
// the model's native order, best confidence first. An empty slice means nothing was found.
type Backend interface {
	Detect(ctx context.Context, kind Kind, imagePath string) ([]Detection, error)
}

type route struct {
	kind  Kind
	group Group
}

// routes is fixed at package initialisation and never written afterwards.
var routes = map[Type]route{
	Head:    {kind: KindHead},
	Eyes:    {kind: KindEyes},
	Faces:   {kind: KindFace},
	Censors: {kind: KindCensor},
	NudeNet: {kind: KindNudeNet},
	Mongo:   {kind: KindNudeNet, group: GroupFemaleGenitalia},
	Opai:    {kind: KindNudeNet, group: GroupFemaleBreast},
	Armpits: {kind: KindNudeNet, group: GroupArmpits},
	Feet:    {kind: KindNudeNet, group: GroupFeet},
}

// Route reports the backend kind and label group bound to t.
func Route(t Type) (Kind, Group, bool) {
	r, ok := routes[t]
	return r.kind, r.group, ok
}

// Dispatcher maps a detection type to its backend call and label filter.
type Dispatcher struct {
	backend Backend
}

func NewDispatcher(backend Backend) *Dispatcher {
	return &Dispatcher{backend: backend}
}

// Detections returns the detections for t in backend order, keeping only labels of the
// type's group. An empty result is not an error.
func (d *Dispatcher) Detections(ctx context.Context, t Type, imagePath string) ([]Detection, error) {
	kind, group, ok := Route(t)
	if !ok || d.backend == nil {
		return nil, fmt.Errorf("%w: %q", ErrConfiguration, t)
	}
	found, err := d.backend.Detect(ctx, kind, imagePath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %s detector: %w", ErrProcessing, kind, err)
	}
	out := make([]Detection, 0, len(found))
	for _, det := range found {
		if InGroup(det.Label, group) {
			out = append(out, det)
		}
	}
	return out, nil
}
