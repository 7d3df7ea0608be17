//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_scan.go -package=mocks
package scan

import (
	"context"
	"errors"

	"github.com/bbernhard/repairiq/src/datastructures"
)

// ErrSourceNotReady is returned by a FrameSource that has nothing to hand
// out yet (no phone frame received, no camera configured, no file chosen).
var ErrSourceNotReady = errors.New("frame source not ready")

// FrameSource yields one JPEG encoded frame per call.
type FrameSource interface {
	CaptureFrame(ctx context.Context) ([]byte, error)
}

type Classifier interface {
	Classify(ctx context.Context, image []byte) (datastructures.PredictionResult, error)
}

// Explainer produces a human readable explanation for a component label.
type Explainer interface {
	Explain(ctx context.Context, label string) (string, error)
}

type Publisher interface {
	Publish(outcome datastructures.ScanOutcome)
}
