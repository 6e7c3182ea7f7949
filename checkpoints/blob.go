// Package checkpoints persists experiment state: a versioned typed
// checkpoint with training progress and monitor history, plus the
// model directory holding reconstruction parameters and a binary
// weight blob.
package checkpoints

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"

	"github.com/fiberlab/tracto/layers"
)

// Weight blob layout: a little-endian uint32 header length, a JSON
// header listing each tensor's name and shape in payload order, then
// the concatenated float64 payloads, little-endian.

type blobHeader struct {
	Tensors []blobTensor `json:"tensors"`
}

type blobTensor struct {
	Name  string `json:"name"`
	Shape []int  `json:"shape"`
}

// WriteWeights serializes parameter tensors to the weight blob format.
func WriteWeights(w io.Writer, params []layers.Parameter) error {
	header := blobHeader{Tensors: make([]blobTensor, len(params))}
	for i, p := range params {
		if len(p.Data) != p.NumElements() {
			return fmt.Errorf("tensor %q has %d values for shape %v", p.Name, len(p.Data), p.Shape)
		}
		header.Tensors[i] = blobTensor{Name: p.Name, Shape: p.Shape}
	}
	headerBytes, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encoding weight header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(headerBytes))); err != nil {
		return fmt.Errorf("writing header length: %w", err)
	}
	if _, err := w.Write(headerBytes); err != nil {
		return fmt.Errorf("writing weight header: %w", err)
	}
	buf := make([]byte, 8)
	for _, p := range params {
		for _, v := range p.Data {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
			if _, err := w.Write(buf); err != nil {
				return fmt.Errorf("writing tensor %q: %w", p.Name, err)
			}
		}
	}
	return nil
}

// ReadWeights deserializes a weight blob back into parameter tensors.
func ReadWeights(r io.Reader) ([]layers.Parameter, error) {
	var headerLen uint32
	if err := binary.Read(r, binary.LittleEndian, &headerLen); err != nil {
		return nil, fmt.Errorf("reading header length: %w", err)
	}
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("reading weight header: %w", err)
	}
	var header blobHeader
	if err := json.Unmarshal(headerBytes, &header); err != nil {
		return nil, fmt.Errorf("decoding weight header: %w", err)
	}

	params := make([]layers.Parameter, len(header.Tensors))
	buf := make([]byte, 8)
	for i, t := range header.Tensors {
		n := 1
		for _, d := range t.Shape {
			if d < 1 {
				return nil, fmt.Errorf("tensor %q has invalid shape %v", t.Name, t.Shape)
			}
			n *= d
		}
		data := make([]float64, n)
		for j := range data {
			if _, err := io.ReadFull(r, buf); err != nil {
				return nil, fmt.Errorf("reading tensor %q: %w", t.Name, err)
			}
			data[j] = math.Float64frombits(binary.LittleEndian.Uint64(buf))
		}
		params[i] = layers.Parameter{Name: t.Name, Shape: t.Shape, Data: data}
	}
	return params, nil
}
