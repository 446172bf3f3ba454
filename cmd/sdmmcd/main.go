package main

import (
	"flag"
	"fmt"
	"os"
	"runtime/debug"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/sdwire/sdmmc"
	"github.com/sdwire/sdmmc/config"
	"github.com/sdwire/sdmmc/hw/hwtest"
)

// A version string that can be set with
//
//	-ldflags "-X main.Build=SOMEVERSION"
//
// at compile-time.
var Build string

func init() {
	if Build == "" {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}

		Build = strings.TrimPrefix(info.Main.Version, "v")
	}
}

func main() {
	configPath := flag.String("config", "", "Path to either a file or directory to load configuration from")
	configTest := flag.Bool("test", false, "Test the config and print the end result. Non zero exit indicates a faulty config")
	printVersion := flag.Bool("version", false, "Print version")

	flag.Parse()

	if *printVersion {
		fmt.Printf("Version: %s\n", Build)
		os.Exit(0)
	}

	l := logrus.New()
	l.Out = os.Stdout

	c := config.NewC(l)
	if *configPath != "" {
		if err := c.Load(*configPath); err != nil {
			fmt.Printf("failed to load config: %s", err)
			os.Exit(1)
		}
	}

	if err := sdmmc.ConfigLogger(l, c); err != nil {
		l.WithError(err).Error("Failed to configure the logger")
		os.Exit(1)
	}

	if *configTest {
		b, err := yaml.Marshal(c.Settings)
		if err != nil {
			os.Exit(1)
		}
		l.Println(string(b))
		os.Exit(0)
	}

	if err := sdmmc.StartStats(l, c, Build, false); err != nil {
		l.WithError(err).Error("Failed to start stats emission")
		os.Exit(1)
	}

	// There is no portable way to own a real controller slot from here, so
	// the smoke run drives the engine against the simulated host. Wiring a
	// board-specific hw.Host in its place is the integration point.
	host := hwtest.New(l)
	host.AutoComplete = true
	host.SetResponse([4]uint32{0x00aa0120, 0x325b5983, 0x303247ff, 0x00000e00})

	engine := sdmmc.NewEngine(l, host, c)
	if err := engine.Initialize(); err != nil {
		l.WithError(err).Error("Failed to initialize the request engine")
		os.Exit(1)
	}
	defer engine.Shutdown()

	if err := selftest(l, engine, host); err != nil {
		l.WithError(err).Error("Self test failed")
		os.Exit(1)
	}

	l.Info("Self test passed")
	os.Exit(0)
}

func selftest(l *logrus.Logger, engine *sdmmc.Engine, host *hwtest.Host) error {
	block := make([]byte, 512)
	bulk := make([]byte, 20480)

	cmds := []struct {
		name string
		cmd  *sdmmc.Command
	}{
		{"go-idle", &sdmmc.Command{Opcode: 0}},
		{"all-send-cid", &sdmmc.Command{
			Opcode: sdmmc.OpAllSendCID,
			Flags:  sdmmc.FlagResponsePresent | sdmmc.FlagResponse136 | sdmmc.FlagResponseCRC,
		}},
		{"read-single-block", &sdmmc.Command{
			Opcode:   17,
			Flags:    sdmmc.FlagResponsePresent | sdmmc.FlagResponseCRC | sdmmc.FlagRead,
			Data:     block,
			BlockLen: 512,
		}},
		{"write-block", &sdmmc.Command{
			Opcode:   24,
			Flags:    sdmmc.FlagResponsePresent | sdmmc.FlagResponseCRC,
			Data:     block,
			BlockLen: 512,
		}},
		{"read-multiple-blocks", &sdmmc.Command{
			Opcode:   18,
			Flags:    sdmmc.FlagResponsePresent | sdmmc.FlagResponseCRC | sdmmc.FlagRead,
			Data:     bulk,
			BlockLen: 512,
		}},
	}

	for _, tc := range cmds {
		if err := engine.Run(tc.cmd); err != nil {
			return fmt.Errorf("%s: %w", tc.name, err)
		}
		host.Wait()
		if err := tc.cmd.Err(); err != nil {
			return fmt.Errorf("%s: %w", tc.name, err)
		}
		l.WithFields(logrus.Fields{
			"command":  tc.name,
			"opcode":   tc.cmd.Opcode,
			"response": fmt.Sprintf("%08x", tc.cmd.Response),
		}).Info("Command completed")
	}

	return nil
}
