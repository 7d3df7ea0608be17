package predict

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
	ort "github.com/yalue/onnxruntime_go"
)

var (
	onnxEnvironmentMu   sync.Mutex
	onnxEnvironmentRefs int
)

func acquireOnnxEnvironment(sharedLibraryPath string) error {
	onnxEnvironmentMu.Lock()
	defer onnxEnvironmentMu.Unlock()

	if onnxEnvironmentRefs == 0 {
		if sharedLibraryPath != "" {
			ort.SetSharedLibraryPath(sharedLibraryPath)
		}
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	onnxEnvironmentRefs++
	return nil
}

func releaseOnnxEnvironment() error {
	onnxEnvironmentMu.Lock()
	defer onnxEnvironmentMu.Unlock()

	onnxEnvironmentRefs--
	if onnxEnvironmentRefs == 0 {
		return ort.DestroyEnvironment()
	}
	return nil
}

// OnnxBackend runs model.onnx through onnxruntime. Every inference allocates
// its own input/output tensors and destroys them before returning, so one
// session can serve all workers.
type OnnxBackend struct {
	session     *ort.DynamicAdvancedSession
	outputShape ort.Shape
}

func NewOnnxBackend(modelPath string, inputName string, outputName string, sharedLibraryPath string) (*OnnxBackend, error) {
	if err := acquireOnnxEnvironment(sharedLibraryPath); err != nil {
		return nil, err
	}

	_, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		releaseOnnxEnvironment()
		return nil, fmt.Errorf("failed to inspect ONNX model: %w", err)
	}

	var outputShape ort.Shape
	for _, o := range outputs {
		if o.Name == outputName {
			outputShape = o.Dimensions.Clone()
		}
	}
	if outputShape == nil {
		releaseOnnxEnvironment()
		return nil, fmt.Errorf("ONNX model has no output %q", outputName)
	}
	// dynamic batch dimension
	for i, d := range outputShape {
		if d < 0 {
			outputShape[i] = 1
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath,
		[]string{inputName}, []string{outputName}, nil)
	if err != nil {
		releaseOnnxEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	log.WithField("outputShape", outputShape.String()).Debug("[Predict] ONNX session created")
	return &OnnxBackend{session: session, outputShape: outputShape}, nil
}

func (b *OnnxBackend) Infer(input *Tensor) (*Tensor, error) {
	inputTensor, err := ort.NewTensor(ort.NewShape(input.Shape...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputTensor, err := ort.NewEmptyTensor[float32](b.outputShape)
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := b.session.Run([]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor}); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	outputData := outputTensor.GetData()
	size := b.OutputSize()
	if size > len(outputData) {
		size = len(outputData)
	}
	result := NewTensor(int64(size))
	copy(result.Data, outputData[:size])
	return result, nil
}

func (b *OnnxBackend) OutputSize() int {
	if len(b.outputShape) == 0 {
		return 0
	}
	return int(b.outputShape[len(b.outputShape)-1])
}

func (b *OnnxBackend) Close() error {
	err := b.session.Destroy()
	if envErr := releaseOnnxEnvironment(); err == nil {
		err = envErr
	}
	return err
}
