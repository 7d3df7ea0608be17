package predict

// Backend runs a single forward pass. Implementations must be safe for
// concurrent use since all dispatcher workers share one backend.
type Backend interface {
	// Infer consumes an input tensor and returns the probability vector of
	// the first batch entry. The caller releases both tensors.
	Infer(input *Tensor) (*Tensor, error)
	OutputSize() int
	Close() error
}

const (
	FormatTensorflow = "tensorflow"
	FormatOnnx       = "onnx"

	TensorflowGraphFilename = "graph.pb"
	OnnxModelFilename       = "model.onnx"

	DefaultInputName  = "input"
	DefaultOutputName = "output"
)
