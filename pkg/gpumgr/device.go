package gpumgr

import (
	"github.com/AccessibleAI/occupiedgpus/pkg/nvmlutils"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
	log "github.com/sirupsen/logrus"
)

var MB uint64 = 1024 * 1024

type DeviceMemory struct {
	Total uint64
	Free  uint64
	Used  uint64
}

type GpuDevice struct {
	UUID      string
	Index     int
	Name      string
	Memory    *DeviceMemory
	Sample    MemorySample
	Processes []*GpuProcess
}

func NewGpuDevice(index int, device nvml.Device) *GpuDevice {
	d := &GpuDevice{Index: index, Sample: Unavailable}
	if uuid, ret := device.GetUUID(); nvmlutils.Tolerate(ret) {
		d.UUID = uuid
	}
	if name, ret := device.GetName(); nvmlutils.Tolerate(ret) {
		d.Name = name
	}
	d.setGpuMemoryUsage(device)
	d.setGpuProcesses(device)
	return d
}

func (d *GpuDevice) setGpuMemoryUsage(device nvml.Device) {
	memory, ret := device.GetMemoryInfo()
	if !nvmlutils.Tolerate(ret) {
		return
	}
	d.Memory = &DeviceMemory{
		Total: memory.Total / MB,
		Free:  memory.Free / MB,
		Used:  memory.Used / MB,
	}
	d.Sample = NewMemorySample(memory.Used, memory.Free)
}

func (d *GpuDevice) setGpuProcesses(device nvml.Device) {
	processes, ret := device.GetComputeRunningProcesses()
	if !nvmlutils.Tolerate(ret) {
		return
	}
	for _, info := range processes {
		d.Processes = append(d.Processes, NewGpuProcess(info.Pid, info.UsedGpuMemory/MB, d.UUID))
	}
	log.WithField("device", d.Index).Debugf("detected %d compute processes", len(d.Processes))
}

// ListDevices snapshots every device visible through the handle.
func ListDevices(handle *nvmlutils.Handle) ([]*GpuDevice, error) {
	count, err := handle.DeviceCount()
	if err != nil {
		return nil, err
	}
	var devices []*GpuDevice
	for i := 0; i < count; i++ {
		device, err := handle.Device(i)
		if err != nil {
			log.WithError(err).WithField("device", i).Warn("skipping device")
			continue
		}
		devices = append(devices, NewGpuDevice(i, device))
	}
	return devices, nil
}
