package predict

import "sync"

// Tensor is a float32 buffer plus its shape. Buffers come from a pool and
// have to be handed back with Release once the values are no longer needed;
// nothing reclaims them on scope exit.
type Tensor struct {
	Shape []int64
	Data  []float32

	buf *[]float32
}

var tensorPool = sync.Pool{
	New: func() any {
		b := make([]float32, 0)
		return &b
	},
}

func NewTensor(shape ...int64) *Tensor {
	size := int64(1)
	for _, d := range shape {
		size *= d
	}

	buf := tensorPool.Get().(*[]float32)
	if int64(cap(*buf)) < size {
		*buf = make([]float32, size)
	}
	*buf = (*buf)[:size]

	s := make([]int64, len(shape))
	copy(s, shape)
	return &Tensor{Shape: s, Data: *buf, buf: buf}
}

// Release hands the buffer back to the pool. Calling it twice is a no-op.
func (t *Tensor) Release() {
	if t == nil || t.buf == nil {
		return
	}
	clear(*t.buf)
	tensorPool.Put(t.buf)
	t.buf = nil
	t.Data = nil
}

func (t *Tensor) Released() bool {
	return t.buf == nil
}

// ArgMax returns the index and value of the largest element.
func (t *Tensor) ArgMax() (int, float32) {
	if len(t.Data) == 0 {
		return -1, 0
	}
	bestIdx := 0
	for i, p := range t.Data {
		if p > t.Data[bestIdx] {
			bestIdx = i
		}
	}
	return bestIdx, t.Data[bestIdx]
}
