package predict

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/bbernhard/repairiq/src/commons"
	"github.com/bbernhard/repairiq/src/datastructures"
	log "github.com/sirupsen/logrus"
)

// Service is the classification service. It owns the loaded model for the
// lifetime of the process; until a model is installed every call to
// Classify fails with ErrServiceUnavailable.
type Service struct {
	modelDir   string
	opts       LoadOptions
	model      atomic.Pointer[Model]
	dispatcher *Dispatcher
	loading    sync.Once
	loadErr    atomic.Pointer[error]
}

func NewService(modelDir string, workers int, queueSize int, opts LoadOptions) *Service {
	dispatcher := NewDispatcher(queueSize, workers)
	dispatcher.Run()

	return &Service{
		modelDir:   modelDir,
		opts:       opts,
		dispatcher: dispatcher,
	}
}

// LoadAsync starts loading the model in the background. It only ever runs
// once; the returned channel yields the load result.
func (s *Service) LoadAsync() <-chan error {
	done := make(chan error, 1)
	started := false
	s.loading.Do(func() {
		started = true
		go func() {
			done <- s.load()
		}()
	})
	if !started {
		done <- errors.New("model loading already started")
	}
	return done
}

func (s *Service) load() error {
	log.Debug("[Predict] Attempting to load model from: ", s.modelDir)

	m, err := LoadModel(s.modelDir, s.opts)
	if err != nil {
		s.loadErr.Store(&err)
		log.WithError(err).Error("[Predict] Couldn't load model, application will continue without predictions")
		commons.ReportError(err, map[string]string{"stage": "model-load"})
		return err
	}
	s.Install(m)
	return nil
}

// Install makes m the active model.
func (s *Service) Install(m *Model) {
	if old := s.model.Swap(m); old != nil {
		if err := old.Close(); err != nil {
			log.Debug("[Predict] Couldn't close previous model: ", err.Error())
		}
	}
}

func (s *Service) Ready() bool {
	return s.model.Load() != nil
}

// LoadError returns the error of a failed model load, if any.
func (s *Service) LoadError() error {
	if err := s.loadErr.Load(); err != nil {
		return *err
	}
	return nil
}

func (s *Service) Model() *Model {
	return s.model.Load()
}

// Classify runs one image through the model and returns the top label.
func (s *Service) Classify(ctx context.Context, image []byte) (datastructures.PredictionResult, error) {
	var res datastructures.PredictionResult

	m := s.model.Load()
	if m == nil {
		return res, ErrServiceUnavailable
	}

	img, format, err := DecodeImage(image)
	if err != nil {
		return res, err
	}
	log.WithFields(log.Fields{
		"format": format,
		"width":  img.Bounds().Dx(),
		"height": img.Bounds().Dy(),
	}).Debug("[Predict] Decoded image")

	input := Preprocess(img, m.imageSize, m.layout)

	output, err := s.dispatcher.Submit(ctx, m, input)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrServiceUnavailable) {
			return res, err
		}
		return res, newInternalError("inference", err)
	}
	defer output.Release()

	bestIdx, best := output.ArgMax()
	if bestIdx < 0 {
		return res, newInternalError("inference", errors.New("model returned an empty prediction"))
	}

	res.Component = m.vocabulary.Label(bestIdx)
	res.Confidence = roundConfidence(best)

	log.Debug("[Predict] Prediction: ", res.Component, " (", res.Confidence, ")")
	return res, nil
}

// roundConfidence clamps to [0,1] and rounds to two decimals.
func roundConfidence(p float32) float32 {
	v := float64(p)
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		v = 1
	}
	return float32(math.Round(v*100) / 100)
}

func (s *Service) Close() {
	s.dispatcher.Stop()
	if m := s.model.Swap(nil); m != nil {
		if err := m.Close(); err != nil {
			log.Debug("[Predict] Couldn't close model: ", err.Error())
		}
		log.Info("[Predict] Model disposed")
	}
}
