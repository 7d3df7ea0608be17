package predict

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	tf "github.com/tensorflow/tensorflow/tensorflow/go"
)

// TensorflowBackend runs a frozen graph (graph.pb). Sessions are safe to Run
// concurrently.
type TensorflowBackend struct {
	graph      *tf.Graph
	session    *tf.Session
	input      tf.Output
	output     tf.Output
	outputSize int
}

func NewTensorflowBackend(graphPath string, inputName string, outputName string) (*TensorflowBackend, error) {
	model, err := os.ReadFile(graphPath)
	if err != nil {
		log.Debug("[Predict] Couldn't read model: ", err.Error())
		return nil, err
	}

	// Construct an in-memory graph from the serialized form.
	graph := tf.NewGraph()
	if err := graph.Import(model, ""); err != nil {
		log.Debug("[Predict] Couldn't construct graph: ", err.Error())
		return nil, err
	}

	inputOp := graph.Operation(inputName)
	if inputOp == nil {
		return nil, fmt.Errorf("graph has no input operation %q", inputName)
	}
	outputOp := graph.Operation(outputName)
	if outputOp == nil {
		return nil, fmt.Errorf("graph has no output operation %q", outputName)
	}

	session, err := tf.NewSession(graph, nil)
	if err != nil {
		log.Debug("[Predict] Couldn't start session: ", err.Error())
		return nil, err
	}

	b := &TensorflowBackend{
		graph:   graph,
		session: session,
		input:   inputOp.Output(0),
		output:  outputOp.Output(0),
	}

	// the last dimension of the output is the number of classes; unknown (-1)
	// sizes are resolved by the first inference.
	if shape, err := b.output.Shape().ToSlice(); err == nil && len(shape) > 0 && shape[len(shape)-1] > 0 {
		b.outputSize = int(shape[len(shape)-1])
	}
	return b, nil
}

func (b *TensorflowBackend) Infer(input *Tensor) (*Tensor, error) {
	var raw bytes.Buffer
	if err := binary.Write(&raw, binary.LittleEndian, input.Data); err != nil {
		return nil, err
	}
	tensor, err := tf.ReadTensor(tf.Float, input.Shape, &raw)
	if err != nil {
		return nil, fmt.Errorf("couldn't create tensor from image: %w", err)
	}

	output, err := b.session.Run(
		map[tf.Output]*tf.Tensor{
			b.input: tensor,
		},
		[]tf.Output{
			b.output,
		},
		nil)
	if err != nil {
		return nil, fmt.Errorf("couldn't run image prediction: %w", err)
	}

	// output[0].Value() is a vector containing probabilities of
	// labels for each image in the "batch". The batch size is 1.
	batch, ok := output[0].Value().([][]float32)
	if !ok || len(batch) == 0 {
		return nil, fmt.Errorf("unexpected output type %T", output[0].Value())
	}
	probabilities := batch[0]

	result := NewTensor(int64(len(probabilities)))
	copy(result.Data, probabilities)
	return result, nil
}

func (b *TensorflowBackend) OutputSize() int {
	return b.outputSize
}

func (b *TensorflowBackend) Close() error {
	return b.session.Close()
}
