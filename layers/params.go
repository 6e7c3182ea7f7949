package layers

import "fmt"

// Parameter is a named weight tensor extracted from (or loaded into) a
// network, the unit of traffic between networks and checkpoints.
type Parameter struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data,omitempty"`
}

// NumElements returns the product of the parameter's dimensions.
func (p Parameter) NumElements() int {
	n := 1
	for _, d := range p.Shape {
		n *= d
	}
	return n
}

// Parameters extracts the network's weights as named tensors. The prefix
// distinguishes multiple stacks owned by one head (e.g. "mean", "sigma").
func (n *TwoLayerNet) Parameters(prefix string) []Parameter {
	w1 := make([]float64, n.inputSize*n.hiddenSize)
	copy(w1, n.w1.RawMatrix().Data)
	w2 := make([]float64, n.hiddenSize*n.outputSize)
	copy(w2, n.w2.RawMatrix().Data)
	b1 := make([]float64, n.hiddenSize)
	copy(b1, n.b1)
	b2 := make([]float64, n.outputSize)
	copy(b2, n.b2)

	return []Parameter{
		{Name: prefix + ".h1.weight", Shape: []int{n.inputSize, n.hiddenSize}, Data: w1},
		{Name: prefix + ".h1.bias", Shape: []int{n.hiddenSize}, Data: b1},
		{Name: prefix + ".h2.weight", Shape: []int{n.hiddenSize, n.outputSize}, Data: w2},
		{Name: prefix + ".h2.bias", Shape: []int{n.outputSize}, Data: b2},
	}
}

// SetParameters loads previously extracted weights back into the network.
// The params must carry the same four tensors, in any order, with shapes
// matching this network's architecture.
func (n *TwoLayerNet) SetParameters(prefix string, params []Parameter) error {
	byName := make(map[string]Parameter, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}

	load := func(name string, shape []int, dst []float64) error {
		p, ok := byName[name]
		if !ok {
			return fmt.Errorf("missing parameter %q", name)
		}
		if len(p.Shape) != len(shape) {
			return fmt.Errorf("parameter %q has rank %d, expected %d", name, len(p.Shape), len(shape))
		}
		for i, d := range shape {
			if p.Shape[i] != d {
				return fmt.Errorf("parameter %q has shape %v, expected %v", name, p.Shape, shape)
			}
		}
		if len(p.Data) != len(dst) {
			return fmt.Errorf("parameter %q has %d values, expected %d", name, len(p.Data), len(dst))
		}
		copy(dst, p.Data)
		return nil
	}

	if err := load(prefix+".h1.weight", []int{n.inputSize, n.hiddenSize}, n.w1.RawMatrix().Data); err != nil {
		return err
	}
	if err := load(prefix+".h1.bias", []int{n.hiddenSize}, n.b1); err != nil {
		return err
	}
	if err := load(prefix+".h2.weight", []int{n.hiddenSize, n.outputSize}, n.w2.RawMatrix().Data); err != nil {
		return err
	}
	return load(prefix+".h2.bias", []int{n.outputSize}, n.b2)
}
