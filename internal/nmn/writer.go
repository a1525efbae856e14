package nmn

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/qrv0/morphnet/internal/logger"
	"github.com/qrv0/morphnet/internal/metrics"
)

// Marshal plans f, allocates the final buffer once and materializes every field at its
// planned offset. A write pass that ends anywhere but the planned total is a LayoutError.
func Marshal(f *File) ([]byte, *Layout, error) {
	start := time.Now()
	plan, err := Plan(f)
	if err != nil {
		metrics.Faults.WithLabelValues(metrics.FaultShape).Inc()
		return nil, nil, err
	}
	buf := make([]byte, plan.Total)
	c := cursor{buf: buf, record: true}
	layoutFile(&c, f)
	if err := checkWritten(plan, &c); err != nil {
		metrics.Faults.WithLabelValues(metrics.FaultLayout).Inc()
		return nil, nil, err
	}
	metrics.SerializedBytes.Add(float64(len(buf)))
	metrics.SerializeDuration.Observe(time.Since(start).Seconds())
	return buf, plan, nil
}

func checkWritten(plan *Layout, c *cursor) error {
	for i, got := range c.fields {
		if i >= len(plan.Fields) || plan.Fields[i] != got {
			return &LayoutError{Planned: plan.Total, Written: c.off, Field: got.Name}
		}
	}
	if c.overflow || c.off != plan.Total || len(c.fields) != len(plan.Fields) {
		return &LayoutError{Planned: plan.Total, Written: c.off}
	}
	return nil
}

// Save serializes f to path. The file is written under a temporary name and renamed into
// place, so a failed save never leaves a file at path that looks complete.
func Save(path string, f *File) error {
	logSummary(path, f)
	buf, _, err := Marshal(f)
	if err != nil {
		logger.Log.Error("failed to serialize neural morph network", "path", path, "error", err)
		return err
	}
	if err := writeFileAtomic(path, buf); err != nil {
		metrics.Faults.WithLabelValues(metrics.FaultIO).Inc()
		logger.Log.Error("failed to write neural morph network", "path", path, "error", err)
		return fmt.Errorf("write neural morph network %s: %w", path, err)
	}
	metrics.FilesWritten.Inc()
	logger.Log.Info("saved neural morph network", "path", path, "bytes", len(buf))
	return nil
}

func writeFileAtomic(path string, data []byte) (err error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func logSummary(path string, f *File) {
	h := f.Header
	outputs, hidden, units := 0, 0, 0
	if f.Main != nil {
		outputs = f.Main.OutputSize()
		for _, l := range f.Main.Layers {
			if !isWeighted(l) {
				continue
			}
			if hidden == 0 {
				units = l.OutputSize()
			}
			hidden++
		}
		if hidden > 0 {
			hidden--
		}
	}
	logger.Log.Info("saving neural morph network",
		"path", path,
		"mode", h.Mode.String(),
		"inputs", h.NumInputs(),
		"outputs", outputs,
		"hidden_layers", hidden,
		"units_per_layer", units,
		"morphs_per_bone", h.MorphsPerBone,
		"bones", h.NumBones,
		"curves", h.NumCurves,
		"floats_per_curve", h.FloatsPerCurve,
		"groups", h.NumGroups,
		"items_per_group", h.ItemsPerGroup,
	)
}
