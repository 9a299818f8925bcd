package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/AccessibleAI/occupiedgpus/pkg/allocator"
	"github.com/AccessibleAI/occupiedgpus/pkg/gpumgr"
	"github.com/AccessibleAI/occupiedgpus/pkg/nvmlutils"
	"github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	outJSON  = "json"
	outTable = "table"

	flagOutput = "output"
)

var devicesParams = []param{
	{name: flagOutput, shorthand: "o", value: outTable, usage: "output format, one of: table|json"},
}

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"d", "device"},
	Short:   "list gpu devices, their memory and whether they can be occupied",
	Run: func(cmd *cobra.Command, args []string) {
		listDevices()
	},
}

type deviceRow struct {
	Index     int                  `json:"index"`
	UUID      string               `json:"uuid"`
	Name      string               `json:"name"`
	UsedGB    int                  `json:"usedGB"`
	FreeGB    int                  `json:"freeGB"`
	Passive   bool                 `json:"passive"`
	Forced    bool                 `json:"forced"`
	Processes []*gpumgr.GpuProcess `json:"processes"`
}

func listDevices() {
	devices, err := gpumgr.ListDevices(nvmlutils.NewHandle())
	if err != nil {
		log.Error(err)
		return
	}
	rows := deviceRows(devices)
	if viper.GetString(flagOutput) == outJSON {
		out, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			log.Error(err)
			return
		}
		fmt.Println(string(out))
		return
	}
	renderDevicesTable(rows)
}

func deviceRows(devices []*gpumgr.GpuDevice) []deviceRow {
	rows := make([]deviceRow, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, deviceRow{
			Index:     d.Index,
			UUID:      d.UUID,
			Name:      d.Name,
			UsedGB:    d.Sample.UsedGB,
			FreeGB:    d.Sample.FreeGB,
			Passive:   allocator.Passive.Qualifies(d.Sample),
			Forced:    allocator.Forced.Qualifies(d.Sample),
			Processes: d.Processes,
		})
	}
	return rows
}

func renderDevicesTable(rows []deviceRow) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Idx", "UUID", "Name", "Used", "Free", "Passive", "Forced", "Processes"})
	freeTotal := 0
	for _, r := range rows {
		t.AppendRow(table.Row{
			r.Index, r.UUID, r.Name,
			fmt.Sprintf("%dGB", r.UsedGB), fmt.Sprintf("%dGB", r.FreeGB),
			yesNo(r.Passive), yesNo(r.Forced), formatProcesses(r.Processes),
		})
		freeTotal += r.FreeGB
	}
	t.AppendFooter(table.Row{"", "", "", "", fmt.Sprintf("%dGB", freeTotal), "", "", ""})
	t.SetStyle(table.StyleColoredGreenWhiteOnBlack)
	t.Render()
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatProcesses(processes []*gpumgr.GpuProcess) string {
	if len(processes) == 0 {
		return "-"
	}
	var out []string
	for _, p := range processes {
		user := p.User
		if user == "" {
			user = "-"
		}
		entry := fmt.Sprintf("%d/%s/%s %dMB", p.Pid, user, p.GetShortCmdLine(), p.GpuMemory)
		if p.ContainerId != "" {
			entry += " [" + p.ContainerId + "]"
		}
		out = append(out, entry)
	}
	return strings.Join(out, "\n")
}
