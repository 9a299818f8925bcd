package gpumgr

import (
	"path/filepath"

	"github.com/prometheus/procfs"
	"github.com/shirou/gopsutil/v3/process"
	log "github.com/sirupsen/logrus"
)

// GpuProcess is a host process holding memory on a device.
type GpuProcess struct {
	Pid         uint32
	DeviceUuid  string
	GpuMemory   uint64
	Cmdline     []string
	User        string
	ContainerId string
}

func NewGpuProcess(pid uint32, gpuMem uint64, devUuid string) *GpuProcess {
	p := &GpuProcess{
		Pid:        pid,
		GpuMemory:  gpuMem,
		DeviceUuid: devUuid,
	}
	p.setProcessInfo()
	p.setProcessContainerId()
	return p
}

func (p *GpuProcess) setProcessInfo() {
	pr, err := process.NewProcess(int32(p.Pid))
	if err != nil {
		// processes of other pid namespaces are not visible
		log.WithField("pid", p.Pid).Debug(err)
		return
	}
	if p.Cmdline, err = pr.CmdlineSlice(); err != nil {
		log.WithField("pid", p.Pid).Error(err)
	}
	if p.User, err = pr.Username(); err != nil {
		log.WithField("pid", p.Pid).Error(err)
	}
}

func (p *GpuProcess) setProcessContainerId() {
	proc, err := procfs.NewProc(int(p.Pid))
	if err != nil {
		return
	}
	cgroups, err := proc.Cgroups()
	if err != nil {
		log.WithField("pid", p.Pid).Error(err)
		return
	}
	p.ContainerId = containerIdFromCgroups(cgroups)
}

func containerIdFromCgroups(cgroups []procfs.Cgroup) string {
	for _, g := range cgroups {
		for _, c := range g.Controllers {
			if c == "memory" {
				return filepath.Base(g.Path)
			}
		}
	}
	return ""
}

func (p *GpuProcess) GetShortCmdLine() string {
	if len(p.Cmdline) == 0 {
		return "-"
	}
	return p.Cmdline[0]
}
