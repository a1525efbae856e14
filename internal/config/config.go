// Package config describes how a trained model is exported to a network file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/qrv0/morphnet/internal/features"
	"github.com/qrv0/morphnet/internal/nmn"
)

type Config struct {
	Mode           string `json:"mode"`
	NumBones       int    `json:"num_bones"`
	NumCurves      int    `json:"num_curves"`
	IncludeCurves  bool   `json:"include_curves"`
	FloatsPerCurve int    `json:"floats_per_curve,omitempty"`

	MorphsPerBone int `json:"morphs_per_bone,omitempty"`
	GlobalMorphs  int `json:"global_morphs,omitempty"`

	HiddenLayers  int `json:"hidden_layers"`
	UnitsPerLayer int `json:"units_per_layer"`

	CompressGlobal bool `json:"compress_global,omitempty"`

	BoneGroupIndices  []int `json:"bone_group_indices,omitempty"`
	NumBoneGroups     int   `json:"num_bone_groups,omitempty"`
	CurveGroupIndices []int `json:"curve_group_indices,omitempty"`
	NumCurveGroups    int   `json:"num_curve_groups,omitempty"`
}

func Default() Config {
	return Config{
		Mode:          "local",
		IncludeCurves: true,
		MorphsPerBone: 6,
		HiddenLayers:  2,
		UnitsPerLayer: 6,
	}
}

// Load reads a JSON config on top of Default.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg as indented JSON.
func (c *Config) Save(path string) error {
	b, err := c.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func (c *Config) Marshal() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ModeValue parses Mode.
func (c *Config) ModeValue() (nmn.Mode, error) {
	return nmn.ParseMode(strings.ToLower(c.Mode))
}

// CurveFloats is the floats-per-curve value, defaulting to 6 in local mode and 1 in global mode.
func (c *Config) CurveFloats() int {
	if c.FloatsPerCurve > 0 {
		return c.FloatsPerCurve
	}
	if m, _ := c.ModeValue(); m == nmn.ModeGlobal {
		return 1
	}
	return 6
}

// InputCurves is the number of curves that feed the network.
func (c *Config) InputCurves() int {
	if !c.IncludeCurves {
		return 0
	}
	return c.NumCurves
}

// BoneValues is the width of the bone block of the input vector.
func (c *Config) BoneValues() int { return nmn.FloatsPerBone * c.NumBones }

// NumInputs is the full input width.
func (c *Config) NumInputs() int { return c.BoneValues() + c.InputCurves()*c.CurveFloats() }

// LocalGroups is the group count of the local main network: one per bone and one per
// included curve, each reading its own six input floats.
func (c *Config) LocalGroups() int { return c.NumBones + c.InputCurves() }

// NumOutputs is the width the main network must produce.
func (c *Config) NumOutputs() int {
	if m, _ := c.ModeValue(); m == nmn.ModeGlobal {
		return c.GlobalMorphs
	}
	return c.MorphsPerBone * c.LocalGroups()
}

func (c *Config) Validate() error {
	mode, err := c.ModeValue()
	if err != nil {
		return fmt.Errorf("invalid mode: %w", err)
	}
	if c.NumBones < 0 {
		return fmt.Errorf("invalid num_bones: %d (must be non-negative)", c.NumBones)
	}
	if c.NumCurves < 0 {
		return fmt.Errorf("invalid num_curves: %d (must be non-negative)", c.NumCurves)
	}
	if c.NumBones > nmn.MaxInputs/nmn.FloatsPerBone || c.InputCurves() > nmn.MaxInputs || c.CurveFloats() > nmn.MaxInputs ||
		int64(c.BoneValues())+int64(c.InputCurves())*int64(c.CurveFloats()) > nmn.MaxInputs {
		return fmt.Errorf("too many inputs: %d bones and %d curves of %d floats (limit %d)",
			c.NumBones, c.InputCurves(), c.CurveFloats(), nmn.MaxInputs)
	}
	if c.NumInputs() <= 0 {
		return fmt.Errorf("no inputs: %d bones and %d curves", c.NumBones, c.InputCurves())
	}
	if c.HiddenLayers < 0 {
		return fmt.Errorf("invalid hidden_layers: %d (must be non-negative)", c.HiddenLayers)
	}
	if c.HiddenLayers > 0 && c.UnitsPerLayer <= 0 {
		return fmt.Errorf("invalid units_per_layer: %d (must be positive)", c.UnitsPerLayer)
	}
	switch mode {
	case nmn.ModeLocal:
		if c.MorphsPerBone <= 0 {
			return fmt.Errorf("invalid morphs_per_bone: %d (must be positive in local mode)", c.MorphsPerBone)
		}
		if c.NumBones == 0 {
			return fmt.Errorf("local mode needs at least one bone")
		}
		if c.InputCurves() > 0 && c.CurveFloats() != nmn.FloatsPerBone {
			return fmt.Errorf("invalid floats_per_curve: %d (local mode groups curves like bones, want %d)", c.CurveFloats(), nmn.FloatsPerBone)
		}
	case nmn.ModeGlobal:
		if c.GlobalMorphs <= 0 {
			return fmt.Errorf("invalid global_morphs: %d (must be positive in global mode)", c.GlobalMorphs)
		}
		if c.NumBoneGroups > 0 || c.NumCurveGroups > 0 {
			return fmt.Errorf("feature groups require local mode")
		}
	}
	if _, err := c.Groups(); err != nil {
		return err
	}
	return nil
}

// Groups builds the feature groups.
func (c *Config) Groups() (features.Groups, error) {
	return features.Build(c.BoneGroupIndices, c.NumBoneGroups, c.CurveGroupIndices, c.NumCurveGroups, c.NumBones)
}

// Header derives the file header. Validate must have passed.
func (c *Config) Header() (nmn.Header, error) {
	mode, err := c.ModeValue()
	if err != nil {
		return nmn.Header{}, err
	}
	g, err := c.Groups()
	if err != nil {
		return nmn.Header{}, err
	}
	h := nmn.Header{
		Mode:           mode,
		NumBones:       uint32(c.NumBones),
		NumCurves:      uint32(c.InputCurves()),
		NumGroups:      g.NumGroups(),
		ItemsPerGroup:  g.ItemsPerGroup(),
		FloatsPerCurve: uint32(c.CurveFloats()),
	}
	if mode == nmn.ModeGlobal {
		h.NumOutputs = uint32(c.GlobalMorphs)
	} else {
		h.MorphsPerBone = uint32(c.MorphsPerBone)
	}
	return h, nil
}
