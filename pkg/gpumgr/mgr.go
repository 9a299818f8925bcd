package gpumgr

import (
	"github.com/AccessibleAI/occupiedgpus/pkg/nvmlutils"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var ErrNvmlUnavailable = errors.New("neither nvml nor nvidia-smi is available")

// NewStatusProvider prefers NVML and falls back to nvidia-smi when the library can't be initialized.
func NewStatusProvider(handle *nvmlutils.Handle) (StatusProvider, error) {
	err := handle.Init()
	if err == nil {
		log.Infof("using nvml status provider, driver version: %s", handle.DriverVersion())
		return NewNvmlStatusProvider(handle), nil
	}
	log.WithError(err).Warn("nvml not available, trying nvidia-smi")
	if SmiAvailable() {
		log.Info("using nvidia-smi status provider")
		return NewSmiStatusProvider(), nil
	}
	return nil, errors.Wrap(ErrNvmlUnavailable, err.Error())
}
