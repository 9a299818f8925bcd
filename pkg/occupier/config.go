package occupier

import (
	"strconv"
	"strings"

	"github.com/AccessibleAI/occupiedgpus/pkg/allocator"
	"github.com/AccessibleAI/occupiedgpus/pkg/workload"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

const (
	KeyGpuIds         = "gpu-ids"
	KeyEpochs         = "epochs"
	KeyOptions        = "options"
	KeyDelay          = "delay"
	KeyReportEvery    = "report-every"
	KeyMetricsAddr    = "metrics-addr"
	KeyExitAfterClaim = "exit-after-claim"
)

var ErrEmptyDeviceList = errors.New("empty gpu id list")

type Config struct {
	DeviceIDs []int
	Mode      allocator.Mode
	// Epochs is accepted for compatibility with training style launchers and not used.
	Epochs         int
	Workload       workload.Options
	MetricsAddr    string
	ExitAfterClaim bool
}

// ParseDeviceIDs keeps order and duplicates exactly as given.
func ParseDeviceIDs(raw string) ([]int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyDeviceList
	}
	var ids []int
	for _, item := range strings.Split(raw, ",") {
		id, err := strconv.Atoi(strings.TrimSpace(item))
		if err != nil {
			return nil, errors.Wrapf(err, "bad gpu id %q in %q", item, raw)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// LoadConfig resolves the configuration from flags, env and the config file bound into viper.
func LoadConfig() (*Config, error) {
	ids, err := ParseDeviceIDs(viper.GetString(KeyGpuIds))
	if err != nil {
		return nil, err
	}
	delay := viper.GetDuration(KeyDelay)
	if delay <= 0 {
		delay = workload.DefaultDelay
	}
	return &Config{
		DeviceIDs: ids,
		Mode:      allocator.ModeFromOptions(viper.GetInt(KeyOptions)),
		Epochs:    viper.GetInt(KeyEpochs),
		Workload: workload.Options{
			Delay:       delay,
			Rounds:      workload.DefaultRounds,
			ReportEvery: viper.GetInt(KeyReportEvery),
		},
		MetricsAddr:    viper.GetString(KeyMetricsAddr),
		ExitAfterClaim: viper.GetBool(KeyExitAfterClaim),
	}, nil
}
