package metrics

import (
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

var (
	deviceClaimed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "occupy",
		Subsystem: "device",
		Name:      "claimed",
		Help:      "1 once the device has been claimed",
	}, []string{"device_index"})

	deviceMemUsed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "occupy",
		Subsystem: "device",
		Name:      "memory_used_gb",
		Help:      "last observed used memory per device in whole GB",
	}, []string{"device_index"})

	deviceMemFree = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "occupy",
		Subsystem: "device",
		Name:      "memory_free_gb",
		Help:      "last observed free memory per device in whole GB",
	}, []string{"device_index"})

	schedulerPasses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "occupy",
		Subsystem: "scheduler",
		Name:      "passes_total",
		Help:      "total polling passes over the requested devices",
	})

	workloadIterations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "occupy",
		Subsystem: "workload",
		Name:      "iterations_total",
		Help:      "compute bursts executed per device",
	}, []string{"device_index"})

	workloadFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "occupy",
		Subsystem: "workload",
		Name:      "failures_total",
		Help:      "workloads that stopped on a runtime failure",
	}, []string{"device_index"})

	workloadBufferBytes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "occupy",
		Subsystem: "workload",
		Name:      "buffer_bytes",
		Help:      "nominal buffer size requested by the workload",
	}, []string{"device_index"})

	registerOnce sync.Once
)

func label(deviceID int) string {
	return fmt.Sprintf("%d", deviceID)
}

func DeviceClaimed(deviceID int) {
	deviceClaimed.WithLabelValues(label(deviceID)).Set(1)
}

func ObserveMemory(deviceID, usedGB, freeGB int) {
	deviceMemUsed.WithLabelValues(label(deviceID)).Set(float64(usedGB))
	deviceMemFree.WithLabelValues(label(deviceID)).Set(float64(freeGB))
}

func PassCompleted() {
	schedulerPasses.Inc()
}

func WorkloadIteration(deviceID int) {
	workloadIterations.WithLabelValues(label(deviceID)).Inc()
}

func WorkloadFailed(deviceID int) {
	workloadFailures.WithLabelValues(label(deviceID)).Inc()
}

func WorkloadBuffer(deviceID int, bytes int64) {
	workloadBufferBytes.WithLabelValues(label(deviceID)).Set(float64(bytes))
}

func register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(deviceClaimed)
		prometheus.MustRegister(deviceMemUsed)
		prometheus.MustRegister(deviceMemFree)
		prometheus.MustRegister(schedulerPasses)
		prometheus.MustRegister(workloadIterations)
		prometheus.MustRegister(workloadFailures)
		prometheus.MustRegister(workloadBufferBytes)
	})
}

// Serve exposes /metrics on addr in the background.
func Serve(addr string) error {
	register()
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "metrics listener on %s", addr)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	log.Infof("metrics serving on http://%s/metrics", l.Addr())
	go func() {
		if err := http.Serve(l, mux); err != nil {
			log.Error(err)
		}
	}()
	return nil
}
