package predict

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/bbernhard/repairiq/src/datastructures"
	log "github.com/sirupsen/logrus"
)

type LoadOptions struct {
	OnnxSharedLibrary string
}

// Model bundles the backend with the vocabulary it was trained on. A Model
// is immutable once constructed and shared by all requests.
type Model struct {
	backend    Backend
	vocabulary Vocabulary
	metadata   datastructures.ModelMetadata
	imageSize  int
	layout     string
}

func NewModel(backend Backend, vocabulary Vocabulary, metadata datastructures.ModelMetadata) *Model {
	imageSize := metadata.ImageSize
	if imageSize <= 0 {
		imageSize = DefaultImageSize
	}
	layout := metadata.Layout
	if layout == "" {
		layout = LayoutNHWC
	}
	return &Model{
		backend:    backend,
		vocabulary: vocabulary,
		metadata:   metadata,
		imageSize:  imageSize,
		layout:     layout,
	}
}

func (m *Model) Vocabulary() Vocabulary {
	return m.vocabulary
}

func (m *Model) ImageSize() int {
	return m.imageSize
}

func (m *Model) Close() error {
	return m.backend.Close()
}

// LoadModel reads the artifact directory: metadata.json (optional) plus
// either graph.pb or model.onnx.
func LoadModel(modelDir string, opts LoadOptions) (*Model, error) {
	entries, err := os.ReadDir(modelDir)
	if err != nil {
		return nil, fmt.Errorf("model directory %s: %w", modelDir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	log.Debug("[Predict] Model directory contents: ", names)

	metadata, found, err := LoadMetadata(modelDir)
	if err != nil {
		return nil, err
	}

	format, err := detectFormat(modelDir, metadata.Format)
	if err != nil {
		return nil, err
	}

	inputName := metadata.InputName
	if inputName == "" {
		inputName = DefaultInputName
	}
	outputName := metadata.OutputName
	if outputName == "" {
		outputName = DefaultOutputName
	}

	var backend Backend
	switch format {
	case FormatTensorflow:
		backend, err = NewTensorflowBackend(filepath.Join(modelDir, TensorflowGraphFilename), inputName, outputName)
	case FormatOnnx:
		backend, err = NewOnnxBackend(filepath.Join(modelDir, OnnxModelFilename), inputName, outputName, opts.OnnxSharedLibrary)
	}
	if err != nil {
		return nil, err
	}

	vocabulary := VocabularyFromMetadata(metadata, found)
	if size := backend.OutputSize(); size > 0 && size != vocabulary.Len() {
		log.WithFields(log.Fields{
			"outputSize": size,
			"classes":    vocabulary.Len(),
			"fallback":   vocabulary.IsFallback(),
		}).Warn("[Predict] Vocabulary doesn't match the model output, labels may be wrong")
	}

	m := NewModel(backend, vocabulary, metadata)
	log.WithFields(log.Fields{
		"format":    format,
		"classes":   vocabulary.Len(),
		"imageSize": m.imageSize,
		"fallback":  vocabulary.IsFallback(),
	}).Info("[Predict] Hardware model loaded")
	return m, nil
}

func detectFormat(modelDir string, declared string) (string, error) {
	if declared != "" {
		return declared, nil
	}
	if _, err := os.Stat(filepath.Join(modelDir, OnnxModelFilename)); err == nil {
		return FormatOnnx, nil
	}
	if _, err := os.Stat(filepath.Join(modelDir, TensorflowGraphFilename)); err == nil {
		return FormatTensorflow, nil
	}
	return "", fmt.Errorf("no %s or %s found in %s", OnnxModelFilename, TensorflowGraphFilename, modelDir)
}
