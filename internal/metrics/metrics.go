package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Fault kinds reported through Faults.
const (
	FaultShape  = "shape"
	FaultLayout = "layout"
	FaultIO     = "io"
	FaultDecode = "decode"
)

var (
	SerializedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "morphnet_serialized_bytes_total",
		Help: "Total number of bytes produced by the network serializer",
	})

	FilesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Name: "morphnet_files_written_total",
		Help: "Number of network files written to disk",
	})

	SerializeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "morphnet_serialize_duration_seconds",
		Help:    "Time spent planning and materializing a network file",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	Faults = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "morphnet_faults_total",
		Help: "Serialization faults by kind",
	}, []string{"kind"})

	LayersExtracted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "morphnet_layers_extracted_total",
		Help: "Layer descriptors produced by the extractor, by layer kind",
	}, []string{"kind"})
)

// WriteTextfile dumps the default registry in the node-exporter textfile format.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
