package scan

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bbernhard/repairiq/src/datastructures"
	log "github.com/sirupsen/logrus"
)

const DefaultLowConfidenceThreshold = 0.3

// Orchestrator runs capture, classify, explain and publish. Only one scan is
// in flight: starting a scan cancels the previous one, and a result is only
// published while its generation is still the newest.
type Orchestrator struct {
	classifier Classifier
	resolver   *Resolver
	publisher  Publisher
	threshold  float64

	mu         sync.Mutex
	sources    map[SourceKind]FrameSource
	selected   SourceKind
	generation uint64
	cancel     context.CancelFunc
}

func NewOrchestrator(classifier Classifier, resolver *Resolver, publisher Publisher, threshold float64) *Orchestrator {
	if threshold <= 0 {
		threshold = DefaultLowConfidenceThreshold
	}
	return &Orchestrator{
		classifier: classifier,
		resolver:   resolver,
		publisher:  publisher,
		threshold:  threshold,
		sources:    make(map[SourceKind]FrameSource),
		selected:   LocalCamera,
	}
}

func (o *Orchestrator) Register(kind SourceKind, source FrameSource) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sources[kind] = source
}

func (o *Orchestrator) Select(kind SourceKind) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.sources[kind]; !ok {
		return fmt.Errorf("frame source %s isn't registered", kind)
	}
	if o.selected != kind {
		log.Info("[Scan] Switching frame source from ", o.selected, " to ", kind)
	}
	o.selected = kind
	return nil
}

func (o *Orchestrator) Selected() SourceKind {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.selected
}

// Scan runs one pass and returns its outcome together with whether it got
// published. A scan superseded by a newer one is never published. Publish is
// called with the orchestrator locked, so a Publisher must not call back into it.
func (o *Orchestrator) Scan(ctx context.Context) (datastructures.ScanOutcome, bool) {
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.generation++
	generation := o.generation
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	kind := o.selected
	source := o.sources[kind]
	o.mu.Unlock()
	defer cancel()

	outcome := o.run(ctx, source)
	outcome.ScanId = generation
	outcome.Source = string(kind)

	o.mu.Lock()
	defer o.mu.Unlock()
	if generation != o.generation {
		log.Debug("[Scan] Dropping result of superseded scan ", generation)
		return outcome, false
	}
	o.cancel = nil
	o.publisher.Publish(outcome)
	return outcome, true
}

func (o *Orchestrator) run(ctx context.Context, source FrameSource) datastructures.ScanOutcome {
	var outcome datastructures.ScanOutcome

	if source == nil {
		outcome.Err = ErrSourceNotReady
		return outcome
	}

	frame, err := source.CaptureFrame(ctx)
	if err != nil {
		log.Debug("[Scan] Capture failed: ", err.Error())
		outcome.Err = err
		return outcome
	}

	res, err := o.classifier.Classify(ctx, frame)
	if err != nil {
		log.Debug("[Scan] Classification failed: ", err.Error())
		outcome.Err = err
		return outcome
	}

	outcome.Label = res.Component
	outcome.Confidence = res.Confidence
	outcome.Level = ConfidenceLevel(res.Confidence)
	outcome.Unknown = o.isUnknown(res)
	outcome.Explanation = o.resolver.Resolve(ctx, res.Component)
	return outcome
}

func (o *Orchestrator) isUnknown(res datastructures.PredictionResult) bool {
	return float64(res.Confidence) < o.threshold || strings.Contains(strings.ToLower(res.Component), "unknown")
}

func ConfidenceLevel(confidence float32) string {
	switch {
	case confidence >= 0.8:
		return datastructures.ConfidenceHigh
	case confidence >= 0.6:
		return datastructures.ConfidenceMedium
	}
	return datastructures.ConfidenceLow
}
