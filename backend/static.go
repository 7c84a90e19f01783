package backend

import (
	"context"
	"slices"
	"sync"

	"AniObjCut/detect"
)

// Static answers from a fixed table. It records every image path it was asked about.
type Static struct {
	mu      sync.Mutex
	results map[detect.Kind][]detect.Detection
	err     error
	seen    []string
}

func NewStatic(results map[detect.Kind][]detect.Detection) *Static {
	return &Static{results: results}
}

// Fail makes every later call return err.
func (s *Static) Fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *Static) Detect(ctx context.Context, kind detect.Kind, imagePath string) ([]detect.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, imagePath)
	if s.err != nil {
		return nil, s.err
	}
	return slices.Clone(s.results[kind]), nil
}

// Seen returns the image paths passed to Detect so far.
func (s *Static) Seen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.seen)
}
