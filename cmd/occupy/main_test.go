package main

import (
	"runtime"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var _ = Describe("command setup", func() {

	AfterEach(func() {
		viper.Set(flagVerbose, false)
		viper.Set(flagJSONLog, false)
		setupLogging()
	})

	It("binds params into viper", func() {
		cmd := &cobra.Command{Use: "params"}
		setParams([]param{
			{name: "test-count", value: 5, usage: "count"},
			{name: "test-name", shorthand: "n", value: "gpu", usage: "name"},
		}, cmd)
		Expect(cmd.PersistentFlags().Set("test-count", "9")).To(Succeed())
		Expect(viper.GetInt("test-count")).To(Equal(9))
		Expect(viper.GetString("test-name")).To(Equal("gpu"))
		Expect(cmd.PersistentFlags().ShorthandLookup("n")).ToNot(BeNil())
	})

	It("panics on an unsupported default", func() {
		Expect(func() {
			setParams([]param{{name: "test-ratio", value: 0.5}}, &cobra.Command{Use: "ratio"})
		}).To(Panic())
	})

	It("switches level and format from config", func() {
		setupLogging()
		Expect(log.GetLevel()).To(Equal(log.InfoLevel))
		Expect(log.StandardLogger().Formatter).To(BeAssignableToTypeOf(&log.TextFormatter{}))

		viper.Set(flagVerbose, true)
		viper.Set(flagJSONLog, true)
		setupLogging()
		Expect(log.GetLevel()).To(Equal(log.DebugLevel))
		Expect(log.StandardLogger().ReportCaller).To(BeTrue())
		Expect(log.StandardLogger().Formatter).To(BeAssignableToTypeOf(&log.JSONFormatter{}))
	})

	It("shortens the caller", func() {
		fn, file := shortCaller(&runtime.Frame{Function: "github.com/AccessibleAI/occupiedgpus/pkg/allocator.(*Scheduler).pass", Line: 42})
		Expect(fn).To(BeEmpty())
		Expect(file).To(Equal(" [allocator.(*Scheduler).pass:42]"))
	})
})
