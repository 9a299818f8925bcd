package gpumgr

import (
	"github.com/AccessibleAI/occupiedgpus/pkg/nvmlutils"
	"github.com/pkg/errors"
)

// NvmlStatusProvider reads device memory through NVML.
type NvmlStatusProvider struct {
	handle *nvmlutils.Handle
}

func NewNvmlStatusProvider(handle *nvmlutils.Handle) *NvmlStatusProvider {
	return &NvmlStatusProvider{handle: handle}
}

func (p *NvmlStatusProvider) Status(deviceID int) (MemorySample, error) {
	count, err := p.handle.DeviceCount()
	if err != nil {
		return Unavailable, err
	}
	if deviceID < 0 || deviceID >= count {
		return Unavailable, nil
	}
	device, err := p.handle.Device(deviceID)
	if err != nil {
		return Unavailable, err
	}
	memory, ret := device.GetMemoryInfo()
	if err := nvmlutils.ErrorCheck(ret); err != nil {
		return Unavailable, errors.Wrapf(err, "memory info for device %d", deviceID)
	}
	return NewMemorySample(memory.Used, memory.Free), nil
}

var _ StatusProvider = (*NvmlStatusProvider)(nil)
