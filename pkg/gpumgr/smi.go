package gpumgr

import (
	"encoding/csv"
	"io"
	"os/exec"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const smiBinary = "nvidia-smi"

var smiMemoryQueryArgs = []string{
	"--query-gpu=index,memory.used,memory.free", "--format=csv,noheader,nounits",
}

const MiB uint64 = 1 << 20

type smiRecord struct {
	index     int
	usedBytes uint64
	freeBytes uint64
}

// SmiStatusProvider reads device memory by shelling out to nvidia-smi.
// Used when the NVML library can't be loaded into the process.
type SmiStatusProvider struct {
	query func() ([]byte, error)
}

func NewSmiStatusProvider() *SmiStatusProvider {
	return &SmiStatusProvider{query: runSmiMemoryQuery}
}

func SmiAvailable() bool {
	_, err := exec.LookPath(smiBinary)
	return err == nil
}

func runSmiMemoryQuery() ([]byte, error) {
	// #nosec G204
	cmd := exec.Command(smiBinary, smiMemoryQueryArgs...)
	out, err := cmd.Output()
	if err != nil {
		log.WithError(err).WithField("output", string(out)).Warn("error while executing nvidia-smi")
		return nil, errors.Wrap(err, "nvidia-smi memory query")
	}
	return out, nil
}

func (p *SmiStatusProvider) Status(deviceID int) (MemorySample, error) {
	out, err := p.query()
	if err != nil {
		return Unavailable, err
	}
	records, err := parseSmiMemory(out)
	if err != nil {
		return Unavailable, err
	}
	if deviceID < 0 || deviceID >= len(records) {
		return Unavailable, nil
	}
	for _, r := range records {
		if r.index == deviceID {
			return NewMemorySample(r.usedBytes, r.freeBytes), nil
		}
	}
	return Unavailable, nil
}

func parseSmiMemory(out []byte) ([]smiRecord, error) {
	var records []smiRecord
	r := csv.NewReader(strings.NewReader(string(out)))
	for {
		record, err := r.Read()
		switch {
		case err == io.EOF:
			return records, nil
		case err != nil:
			return nil, errors.Wrap(err, "error parsing output of nvidia-smi as CSV")
		case len(record) != 3:
			return nil, errors.New(
				"error parsing output of nvidia-smi; memory record should have exactly 3 fields")
		}
		index, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			return nil, errors.Wrap(err, "error parsing output of nvidia-smi; index of GPU cannot be converted to int")
		}
		used, err := strconv.ParseUint(strings.TrimSpace(record[1]), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "error parsing used memory of GPU %d", index)
		}
		free, err := strconv.ParseUint(strings.TrimSpace(record[2]), 10, 64)
		if err != nil {
			return nil, errors.Wrapf(err, "error parsing free memory of GPU %d", index)
		}
		records = append(records, smiRecord{index: index, usedBytes: used * MiB, freeBytes: free * MiB})
	}
}

var _ StatusProvider = (*SmiStatusProvider)(nil)
