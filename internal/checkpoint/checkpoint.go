// Package checkpoint maps a trained state dict stored as safetensors onto the
// weighted layers the network extractor consumes.
package checkpoint

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/qrv0/morphnet/internal/logger"
	"github.com/qrv0/morphnet/internal/nmn"
	"github.com/qrv0/morphnet/internal/safetensors"
)

// State dict names used by the trainer.
const (
	MainPrefix   = "network.weighted_layers."
	GroupsPrefix = "groups_network.weighted_layers."
	InputMean    = "input_mean"
	InputStd     = "input_std"
)

type Checkpoint struct {
	Main   []nmn.WeightedLayer
	Groups []nmn.WeightedLayer // nil when the checkpoint has no groups network
	// InputMean and InputStd are nil when the checkpoint carries no statistics.
	InputMean []float32
	InputStd  []float32
}

// Load opens a safetensors checkpoint.
func Load(path string) (*Checkpoint, error) {
	st, err := safetensors.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint: %w", err)
	}
	ck, err := FromFile(st)
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: %w", path, err)
	}
	logger.Log.Debug("loaded checkpoint", "path", path,
		"main_layers", len(ck.Main), "groups_layers", len(ck.Groups), "stats", ck.InputMean != nil)
	return ck, nil
}

// FromFile collects the weighted layers of both networks ordered by index.
func FromFile(st *safetensors.File) (*Checkpoint, error) {
	main, err := collect(st, MainPrefix)
	if err != nil {
		return nil, err
	}
	if len(main) == 0 {
		return nil, fmt.Errorf("%w: no tensors named %s<i>.weight", nmn.ErrShape, MainPrefix)
	}
	groups, err := collect(st, GroupsPrefix)
	if err != nil {
		return nil, err
	}
	ck := &Checkpoint{Main: main, Groups: groups}
	if _, ok := st.Tensors[InputMean]; ok {
		if ck.InputMean, ck.InputStd, err = ReadStats(st); err != nil {
			return nil, err
		}
	}
	return ck, nil
}

// ReadStats returns the input_mean and input_std vectors, which must be 1D and of equal length.
func ReadStats(st *safetensors.File) (mean, std []float32, err error) {
	mean, err = vector(st, InputMean)
	if err != nil {
		return nil, nil, err
	}
	std, err = vector(st, InputStd)
	if err != nil {
		return nil, nil, err
	}
	if len(mean) != len(std) {
		return nil, nil, &nmn.ShapeError{Field: InputStd, Want: len(mean), Got: len(std)}
	}
	return mean, std, nil
}

func vector(st *safetensors.File, name string) ([]float32, error) {
	data, shape, err := st.Float32(name)
	if err != nil {
		return nil, err
	}
	if len(shape) != 1 {
		return nil, fmt.Errorf("%w: %s must be 1D, got shape %v", nmn.ErrShape, name, shape)
	}
	return data, nil
}

func collect(st *safetensors.File, prefix string) ([]nmn.WeightedLayer, error) {
	type pair struct{ weight, bias bool }
	seen := make(map[int]*pair)
	for _, name := range st.Names() {
		rest, ok := strings.CutPrefix(name, prefix)
		if !ok {
			continue
		}
		idx, param, ok := strings.Cut(rest, ".")
		i, err := strconv.Atoi(idx)
		if !ok || err != nil || i < 0 {
			return nil, fmt.Errorf("%w: malformed layer tensor name %q", nmn.ErrShape, name)
		}
		p := seen[i]
		if p == nil {
			p = &pair{}
			seen[i] = p
		}
		switch param {
		case "weight":
			p.weight = true
		case "bias":
			p.bias = true
		default:
			logger.Log.Debug("ignoring checkpoint tensor", "name", name)
		}
	}
	if len(seen) == 0 {
		return nil, nil
	}
	indices := make([]int, 0, len(seen))
	for i := range seen {
		indices = append(indices, i)
	}
	sort.Ints(indices)

	layers := make([]nmn.WeightedLayer, 0, len(indices))
	for n, i := range indices {
		if i != n {
			return nil, fmt.Errorf("%w: %s layers are not contiguous, missing index %d", nmn.ErrShape, prefix, n)
		}
		if p := seen[i]; !p.weight || !p.bias {
			return nil, fmt.Errorf("%w: %s%d needs both weight and bias", nmn.ErrShape, prefix, i)
		}
		w, err := tensor(st, fmt.Sprintf("%s%d.weight", prefix, i))
		if err != nil {
			return nil, err
		}
		b, err := tensor(st, fmt.Sprintf("%s%d.bias", prefix, i))
		if err != nil {
			return nil, err
		}
		layers = append(layers, nmn.WeightedLayer{Weight: w, Bias: b})
	}
	return layers, nil
}

func tensor(st *safetensors.File, name string) (nmn.Tensor, error) {
	data, shape, err := st.Float32(name)
	if err != nil {
		return nmn.Tensor{}, err
	}
	return nmn.Tensor{Shape: shape, Data: data}, nil
}

// Save writes ck in the trainer's naming convention.
func Save(path string, ck *Checkpoint) error {
	w := safetensors.NewWriter()
	w.SetMetadata("format", "pt")
	add := func(prefix string, layers []nmn.WeightedLayer) error {
		for i, l := range layers {
			if err := w.AddFloat32(fmt.Sprintf("%s%d.weight", prefix, i), l.Weight.Shape, l.Weight.Data); err != nil {
				return err
			}
			if err := w.AddFloat32(fmt.Sprintf("%s%d.bias", prefix, i), l.Bias.Shape, l.Bias.Data); err != nil {
				return err
			}
		}
		return nil
	}
	if err := add(MainPrefix, ck.Main); err != nil {
		return err
	}
	if err := add(GroupsPrefix, ck.Groups); err != nil {
		return err
	}
	if ck.InputMean != nil {
		if err := SaveStatsTo(w, ck.InputMean, ck.InputStd); err != nil {
			return err
		}
	}
	return w.Save(path)
}

// SaveStatsTo adds the statistics vectors to w.
func SaveStatsTo(w *safetensors.Writer, mean, std []float32) error {
	if err := w.AddFloat32(InputMean, []int{len(mean)}, mean); err != nil {
		return err
	}
	return w.AddFloat32(InputStd, []int{len(std)}, std)
}
