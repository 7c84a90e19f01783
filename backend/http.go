package backend

import (
	"context"
	"fmt"
	"strings"
	"time"

	"AniObjCut/detect"

	"github.com/go-resty/resty/v2"
)

// HTTPBackend calls a detector sidecar: POST {base}/detect/{kind} with the image as multipart
// field "file", answered by {"detections":[{"box":[x0,y0,x1,y1],"label":"...","score":0.9}]}.
type HTTPBackend struct {
	client  *resty.Client
	baseURL string
}

func NewHTTP(baseURL string, timeout time.Duration) *HTTPBackend {
	return &HTTPBackend{
		client:  resty.New().SetTimeout(timeout),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (b *HTTPBackend) Detect(ctx context.Context, kind detect.Kind, imagePath string) ([]detect.Detection, error) {
	var out wireResponse
	resp, err := b.client.R().
		SetContext(ctx).
		SetFile("file", imagePath).
		SetResult(&out).
		Post(b.baseURL + "/detect/" + string(kind))
	if err != nil {
		return nil, fmt.Errorf("request %s detector: %w", kind, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%s detector returned %s: %s", kind, resp.Status(), resp.String())
	}
	return fromWire(out.Detections)
}
