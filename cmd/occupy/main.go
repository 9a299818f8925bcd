package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path"
	"runtime"
	"strings"
	"syscall"

	"github.com/AccessibleAI/occupiedgpus/pkg/occupier"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type param struct {
	name      string
	shorthand string
	value     interface{}
	usage     string
}

const (
	flagConfig  = "config"
	flagJSONLog = "json-log"
	flagVerbose = "verbose"
)

var (
	Version    string
	Build      string
	rootParams = []param{
		{name: flagConfig, shorthand: "c", value: ".", usage: "path to configuration file directory"},
		{name: flagJSONLog, shorthand: "", value: false, usage: "output logs in json format"},
		{name: flagVerbose, shorthand: "", value: false, usage: "enable verbose logs"},
	}
	occupyParams = []param{
		{name: occupier.KeyGpuIds, shorthand: "", value: "0", usage: "comma separated gpu ids to occupy"},
		{name: occupier.KeyEpochs, shorthand: "", value: 1000, usage: "the number of epochs (accepted, unused)"},
		{name: occupier.KeyOptions, shorthand: "", value: 0, usage: "0: occupy idle gpus only, otherwise occupy any gpu with free memory"},
		{name: occupier.KeyDelay, shorthand: "", value: "3s", usage: "sleep between compute bursts"},
		{name: occupier.KeyReportEvery, shorthand: "", value: 100, usage: "log liveness every N compute bursts"},
		{name: occupier.KeyMetricsAddr, shorthand: "", value: "", usage: "prometheus listen address, empty disables metrics"},
		{name: occupier.KeyExitAfterClaim, shorthand: "", value: false, usage: "exit once all gpus are claimed instead of keeping the workloads running"},
	}
	version = &cobra.Command{
		Use:   "version",
		Short: "Print occupy version and build sha",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("🐾 version: %s build: %s \n", Version, Build)
		},
	}
	rootCmd = &cobra.Command{
		Use:   "occupy",
		Short: "occupy - claim free gpu memory and keep it busy",
		Run: func(cmd *cobra.Command, args []string) {
			occupy()
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)
	setParams(rootParams, rootCmd)
	setParams(occupyParams, rootCmd)
	setParams(devicesParams, devicesCmd)
	rootCmd.AddCommand(version)
	rootCmd.AddCommand(devicesCmd)
}

func occupy() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()
	cfg, err := occupier.LoadConfig()
	if err != nil {
		log.Error(err)
		return
	}
	// failures are reported, never turned into a non-zero exit status
	if err := occupier.Run(ctx, cfg); err != nil {
		log.Error(err)
		return
	}
	log.Info("bye bye 👋")
}

func initConfig() {
	viper.AutomaticEnv()
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(viper.GetString(flagConfig))
	viper.SetEnvPrefix("OCCUPY")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	setupLogging()
	if err := viper.ReadInConfig(); err != nil {
		log.Debugf("no config file loaded, err: %s", err)
		return
	}
	log.Infof("using config file: %s", viper.ConfigFileUsed())
	viper.WatchConfig()
	viper.OnConfigChange(func(e fsnotify.Event) {
		log.Infof("config file changed: %s, reloading logging settings", e.Name)
		setupLogging()
	})
}

// setParams registers params as persistent flags and binds each one into viper under its flag name.
func setParams(params []param, command *cobra.Command) {
	flags := command.PersistentFlags()
	for _, p := range params {
		switch v := p.value.(type) {
		case int:
			flags.IntP(p.name, p.shorthand, v, p.usage)
		case string:
			flags.StringP(p.name, p.shorthand, v, p.usage)
		case bool:
			flags.BoolP(p.name, p.shorthand, v, p.usage)
		default:
			panic(fmt.Sprintf("unsupported default %T for flag %s", v, p.name))
		}
		if err := viper.BindPFlag(p.name, flags.Lookup(p.name)); err != nil {
			panic(err)
		}
	}
}

func shortCaller(frame *runtime.Frame) (string, string) {
	return "", fmt.Sprintf(" [%s:%d]", path.Base(frame.Function), frame.Line)
}

// setupLogging is rerun whenever the config file changes.
func setupLogging() {
	verbose := viper.GetBool(flagVerbose)
	level := log.InfoLevel
	if verbose {
		level = log.DebugLevel
	}
	log.SetLevel(level)
	log.SetReportCaller(verbose)
	log.SetOutput(os.Stdout)

	if viper.GetBool(flagJSONLog) {
		formatter := &log.JSONFormatter{}
		if verbose {
			formatter.CallerPrettyfier = shortCaller
		}
		log.SetFormatter(formatter)
		return
	}
	formatter := &log.TextFormatter{FullTimestamp: true}
	if verbose {
		formatter.CallerPrettyfier = shortCaller
	}
	log.SetFormatter(formatter)
}

func main() {

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
	}

}
