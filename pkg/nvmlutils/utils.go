package nvmlutils

import (
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Handle is the process wide NVML handle.
// Init loads the library once, there is no teardown before process exit.
type Handle struct {
	lib  nvml.Interface
	once sync.Once
	err  error
}

func NewHandle() *Handle {
	return NewHandleFor(nvml.New())
}

func NewHandleFor(lib nvml.Interface) *Handle {
	return &Handle{lib: lib}
}

func (h *Handle) Init() error {
	h.once.Do(func() {
		if err := ErrorCheck(h.lib.Init()); err != nil {
			h.err = errors.Wrap(err, "nvml init")
			return
		}
		log.Debug("nvml initialized")
	})
	return h.err
}

func (h *Handle) DeviceCount() (int, error) {
	if err := h.Init(); err != nil {
		return 0, err
	}
	count, ret := h.lib.DeviceGetCount()
	if err := ErrorCheck(ret); err != nil {
		return 0, errors.Wrap(err, "device count")
	}
	return count, nil
}

func (h *Handle) Device(idx int) (nvml.Device, error) {
	if err := h.Init(); err != nil {
		return nil, err
	}
	device, ret := h.lib.DeviceGetHandleByIndex(idx)
	if err := ErrorCheck(ret); err != nil {
		return nil, errors.Wrapf(err, "device handle %d", idx)
	}
	return device, nil
}

func (h *Handle) DriverVersion() string {
	if err := h.Init(); err != nil {
		return ""
	}
	driver, ret := h.lib.SystemGetDriverVersion()
	if !Tolerate(ret) {
		return ""
	}
	return driver
}

// ErrorCheck converts an nvml return code into an error.
func ErrorCheck(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return errors.Errorf("nvml error: %s", ret.Error())
}

// Tolerate reports whether the value returned alongside ret can be used.
// Missing optional attributes are logged and skipped, anything else is an error worth logging louder.
func Tolerate(ret nvml.Return) bool {
	switch ret {
	case nvml.SUCCESS:
		return true
	case nvml.ERROR_NOT_FOUND:
		log.Warnf("nvml error: ERROR_NOT_FOUND: [a query to find an object was unsuccessful]")
	case nvml.ERROR_NOT_SUPPORTED:
		log.Warnf("nvml error: ERROR_NOT_SUPPORTED: [device doesn't support this feature]")
	case nvml.ERROR_NO_PERMISSION:
		log.Warnf("nvml error: ERROR_NO_PERMISSION: [user doesn't have permission to perform this operation]")
	default:
		log.Errorf("error during nvml operation: %s", ret.Error())
	}
	return false
}
