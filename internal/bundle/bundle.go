package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/qrv0/morphnet/internal/logger"
	"github.com/qrv0/morphnet/internal/nmn"
)

// ManifestVersion is the version of the META section layout.
const ManifestVersion = 1

var ErrChecksum = errors.New("bundle checksum mismatch")

type LayerSummary struct {
	Kind    string `json:"kind"`
	Inputs  int    `json:"inputs"`
	Outputs int    `json:"outputs"`
}

// Manifest is the JSON payload of the META section.
type Manifest struct {
	FormatVersion  int                 `json:"format_version"`
	Mode           string              `json:"mode"`
	Inputs         int                 `json:"inputs"`
	Outputs        int                 `json:"outputs"`
	GlobalOutputs  uint32              `json:"global_outputs"`
	MorphsPerBone  uint32              `json:"morphs_per_bone"`
	Bones          uint32              `json:"bones"`
	Curves         uint32              `json:"curves"`
	FloatsPerCurve uint32              `json:"floats_per_curve"`
	Groups         uint32              `json:"groups"`
	ItemsPerGroup  uint32              `json:"items_per_group"`
	MainLayers     []LayerSummary      `json:"main_layers"`
	GroupLayers    []LayerSummary      `json:"group_layers,omitempty"`
	ModelBytes     int                 `json:"model_bytes"`
	Compression    string              `json:"compression"`
	ChecksumIndex  map[string]Checksum `json:"checksum_index"`
}

func summarize(n *nmn.Network) []LayerSummary {
	if n == nil {
		return nil
	}
	out := make([]LayerSummary, len(n.Layers))
	for i, l := range n.Layers {
		out[i] = LayerSummary{Kind: l.Kind().String(), Inputs: l.InputSize(), Outputs: l.OutputSize()}
	}
	return out
}

func newManifest(f *nmn.File, modelBytes int, compression string) *Manifest {
	h := f.Header
	return &Manifest{
		FormatVersion:  ManifestVersion,
		Mode:           h.Mode.String(),
		Inputs:         h.NumInputs(),
		Outputs:        f.Main.OutputSize(),
		GlobalOutputs:  h.NumOutputs,
		MorphsPerBone:  h.MorphsPerBone,
		Bones:          h.NumBones,
		Curves:         h.NumCurves,
		FloatsPerCurve: h.FloatsPerCurve,
		Groups:         h.NumGroups,
		ItemsPerGroup:  h.ItemsPerGroup,
		MainLayers:     summarize(f.Main),
		GroupLayers:    summarize(f.Groups),
		ModelBytes:     modelBytes,
		Compression:    compression,
		ChecksumIndex:  make(map[string]Checksum),
	}
}

// ParseCompression maps "zstd", "lz4" or "none" to section flags.
func ParseCompression(s string) (uint32, error) {
	switch strings.ToLower(s) {
	case "zstd":
		return FlagCompZSTD, nil
	case "lz4":
		return FlagCompLZ4, nil
	case "none", "":
		return 0, nil
	}
	return 0, fmt.Errorf("unknown compression %q (want zstd, lz4 or none)", s)
}

type PackOptions struct {
	Compression string
	ChunkSize   int
}

// Pack builds a bundle from a serialized network and an optional export config.
// The model is decoded first so a corrupt network is never packed.
func Pack(model, config []byte, opts PackOptions) (*Writer, *Manifest, error) {
	flags, err := ParseCompression(opts.Compression)
	if err != nil {
		return nil, nil, err
	}
	chunk := opts.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	f, err := nmn.Unmarshal(model)
	if err != nil {
		return nil, nil, fmt.Errorf("decode model: %w", err)
	}
	compression := strings.ToLower(opts.Compression)
	if flags == 0 {
		compression = "none"
	}
	m := newManifest(f, len(model), compression)
	m.ChecksumIndex[SectionName(TypeModel)] = NewChecksum(model, chunk)
	if config != nil {
		if !json.Valid(config) {
			return nil, nil, errors.New("config section is not valid JSON")
		}
		m.ChecksumIndex[SectionName(TypeConfig)] = NewChecksum(config, chunk)
	}
	meta, err := json.Marshal(m)
	if err != nil {
		return nil, nil, err
	}

	w := NewWriter()
	w.AddSection(TypeMeta, meta, 0)
	w.AddSection(TypeModel, model, flags)
	if config != nil {
		w.AddSection(TypeConfig, config, flags)
	}
	return w, m, nil
}

// PackFile packs model bytes into path.
func PackFile(path string, model, config []byte, opts PackOptions) (*Manifest, error) {
	w, m, err := Pack(model, config, opts)
	if err != nil {
		return nil, err
	}
	if err := w.Write(path); err != nil {
		return nil, fmt.Errorf("write bundle %s: %w", path, err)
	}
	logger.Log.Info("packed bundle", "path", path, "model_bytes", m.ModelBytes,
		"compression", m.Compression, "config", config != nil)
	return m, nil
}

// Manifest decodes the META section.
func (r *Reader) Manifest() (*Manifest, error) {
	b, err := r.SectionUncompressed(TypeMeta)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest: %v", ErrCorrupt, err)
	}
	return &m, nil
}

// Model returns the serialized network.
func (r *Reader) Model() ([]byte, error) { return r.SectionUncompressed(TypeModel) }

// Config returns the export config, or nil when the bundle has none.
func (r *Reader) Config() ([]byte, error) {
	if !r.Has(TypeConfig) {
		return nil, nil
	}
	return r.SectionUncompressed(TypeConfig)
}

type SectionReport struct {
	Name       string
	Chunks     int
	Mismatched []int
	Err        error
}

type Report struct {
	Sections []SectionReport
	Model    *nmn.File
}

// OK reports whether every section matched.
func (rep *Report) OK() bool {
	for _, s := range rep.Sections {
		if s.Err != nil || len(s.Mismatched) > 0 {
			return false
		}
	}
	return rep.Model != nil
}

// Verify recomputes every chunk hash in the manifest and decodes the model.
// The report is returned even when verification fails.
func Verify(r *Reader) (*Report, error) {
	m, err := r.Manifest()
	if err != nil {
		return nil, err
	}
	rep := &Report{}
	for _, t := range []uint32{TypeModel, TypeConfig} {
		name := SectionName(t)
		sum, listed := m.ChecksumIndex[name]
		if !r.Has(t) {
			if listed {
				rep.Sections = append(rep.Sections, SectionReport{Name: name, Err: ErrSectionNotFound})
			}
			continue
		}
		sr := SectionReport{Name: name}
		if !listed {
			sr.Err = fmt.Errorf("no checksum for section %s", name)
			rep.Sections = append(rep.Sections, sr)
			continue
		}
		data, err := r.SectionUncompressed(t)
		if err != nil {
			sr.Err = err
		} else {
			sr.Chunks = sum.Count
			sr.Mismatched, sr.Err = sum.Mismatches(data)
		}
		rep.Sections = append(rep.Sections, sr)
	}
	for _, s := range rep.Sections {
		if s.Err != nil {
			return rep, fmt.Errorf("%w: %s: %v", ErrChecksum, s.Name, s.Err)
		}
		if len(s.Mismatched) > 0 {
			return rep, fmt.Errorf("%w: %s chunks %v", ErrChecksum, s.Name, s.Mismatched)
		}
	}
	model, err := r.Model()
	if err != nil {
		return rep, err
	}
	if rep.Model, err = nmn.Unmarshal(model); err != nil {
		return rep, fmt.Errorf("decode model: %w", err)
	}
	return rep, nil
}
