package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFaultCounter(t *testing.T) {
	before := testutil.ToFloat64(Faults.WithLabelValues(FaultLayout))
	Faults.WithLabelValues(FaultLayout).Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(Faults.WithLabelValues(FaultLayout)))
}

func TestWriteTextfile(t *testing.T) {
	SerializedBytes.Add(64)
	path := filepath.Join(t.TempDir(), "morphnet.prom")
	require.NoError(t, WriteTextfile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(b), "morphnet_serialized_bytes_total")
}
