package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/norasector/dabdevice/pkg/config"
	"github.com/norasector/dabdevice/pkg/dab"
	"github.com/norasector/dabdevice/pkg/device"
	"github.com/norasector/dabdevice/pkg/device/file"
	"github.com/norasector/dabdevice/pkg/device/hackrf"
	"github.com/norasector/dabdevice/pkg/device/rtlsdr"
)

const stopTimeout = 5 * time.Second

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)

	configFile := flag.String("config", "dabdump.yaml", "YAML config file")
	list := flag.Bool("list", false, "list available devices and exit")
	deviceID := flag.String("device", "", "device ID to open, overrides the config file")
	channel := flag.String("channel", "", "Band III channel to tune to, e.g. 12C")
	output := flag.String("output", "", "file to write raw samples to, - for stdout")
	samples := flag.Int("samples", -1, "number of samples to capture, 0 for no limit")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	if *verbose {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		log.Fatal().Err(err).Str("config", *configFile).Msg("error loading config file")
	}
	if *deviceID != "" {
		cfg.Device = *deviceID
	}
	if *channel != "" {
		ch, ok := dab.ChannelByName(*channel)
		if !ok {
			log.Fatal().Str("channel", *channel).Msg("unknown channel")
		}
		cfg.Channel = ch.Name
		cfg.Config = cfg.Config.WithFrequency(ch.Frequency)
	}
	if *output != "" {
		cfg.Dump.Output = *output
	}
	if *samples >= 0 {
		cfg.Dump.Samples = *samples
	}

	if err := run(cfg, *list); err != nil {
		log.Fatal().Err(err).Msg("exited program")
	}
}

func run(cfg *config.Config, list bool) error {
	registry := device.NewRegistry(
		device.WithRegistryLogger(log.Logger),
		device.WithHandleOptions(cfg.HandleOptions()...),
	)
	defer registry.Close()

	if cfg.Drivers.RTLSDR {
		if err := registry.Register(rtlsdr.NewDriver()); err != nil {
			return err
		}
	}
	if cfg.Drivers.HackRF.Enabled {
		driver, err := hackrf.NewDriver(hackrf.WithAmp(cfg.Drivers.HackRF.Amp))
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize hackRF, skipping driver")
		} else if err := registry.Register(driver); err != nil {
			return err
		}
	}
	if len(cfg.Drivers.Files.Sources) > 0 {
		if err := registry.Register(file.NewDriver(cfg.Drivers.Files.Sources, cfg.FileDriverOptions()...)); err != nil {
			return err
		}
	}

	if list {
		return listDevices(registry)
	}
	if cfg.Device == "" {
		return errors.New("no device selected, set device in the config or pass -device")
	}

	var handleOpts []device.HandleOption
	if cfg.InfluxDB.Host != "" {
		client := influxdb2.NewClient(cfg.InfluxDB.Host, cfg.InfluxDB.Token)
		defer client.Close()
		writeAPI := client.WriteAPI(cfg.InfluxDB.Organization, cfg.InfluxDB.Bucket)
		defer writeAPI.Flush()
		handleOpts = append(handleOpts, device.WithInfluxDB(writeAPI))
	}

	out, err := openOutput(cfg.Dump.Output)
	if err != nil {
		return err
	}
	defer out.Close()
	w := bufio.NewWriterSize(out, 1<<20)
	defer w.Flush()

	h, err := registry.Open(context.Background(), cfg.Device, cfg.Config, handleOpts...)
	if err != nil {
		return err
	}
	defer h.Close()

	if cfg.Config.Frequency != nil {
		log.Info().Str("frequency", cfg.Config.Frequency.String()).Str("channel", cfg.Channel).Msg("tuned")
	}

	eg, ctx := errgroup.WithContext(context.Background())
	dumpCtx, dumpDone := context.WithCancel(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	if err := h.Start(ctx); err != nil {
		dumpDone()
		return err
	}

	eg.Go(func() error {
		select {
		case <-sigChan:
			log.Info().Msg("interrupted, stopping")
		case <-dumpCtx.Done():
		}

		stopCtx, cancel := context.WithTimeout(context.Background(), stopTimeout)
		defer cancel()
		if err := h.Stop(stopCtx); err != nil && !errors.Is(err, device.ErrInvalidState) {
			return err
		}
		return nil
	})

	eg.Go(func() error {
		defer dumpDone()
		return dump(dumpCtx, h, w, cfg.Dump.Samples)
	})

	err = eg.Wait()

	s := h.Stats()
	log.Info().
		Uint64("frames", s.Frames).
		Uint64("samples", s.Samples).
		Uint64("timeouts", s.Timeouts).
		Dur("blocked", s.BlockedTime).
		Msg("capture finished")

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// dump copies frames to w until limit samples were written (0 means no
// limit), a replayed recording ends or the handle is stopped.
func dump(ctx context.Context, h *device.Handle, w io.Writer, limit int) error {
	written := 0
	for limit == 0 || written < limit {
		frame, err := h.Read(ctx, time.Second)
		switch {
		case errors.Is(err, device.ErrReadTimeout):
			log.Debug().Msg("no samples within a second")
			continue
		case errors.Is(err, device.ErrClosed), errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, io.EOF):
			log.Info().Int("samples", written).Msg("end of recording")
			return nil
		case err != nil:
			return err
		}

		data := frame.Data[:frame.Samples()*frame.Format.Size()]
		if limit > 0 && written+frame.Samples() > limit {
			data = data[:(limit-written)*frame.Format.Size()]
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("writing samples: %w", err)
		}
		written += len(data) / frame.Format.Size()
	}
	log.Info().Int("samples", written).Msg("sample limit reached")
	return nil
}

func openOutput(path string) (io.WriteCloser, error) {
	switch path {
	case "", "-":
		return nopCloser{os.Stdout}, nil
	default:
		return os.Create(path)
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

func listDevices(registry *device.Registry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	descs, err := registry.Enumerate(ctx)
	if err != nil {
		return err
	}
	if len(descs) == 0 {
		log.Warn().Strs("drivers", registry.Drivers()).Msg("no devices found")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tFORMATS\tRATES\tTUNING")
	for _, d := range descs {
		tuning := "-"
		if d.Capabilities.Tuning {
			tuning = d.Capabilities.FrequencyRange.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%v\t%v\t%s\n", d.ID, d.Name, d.Formats, d.Rates, tuning)
	}
	return tw.Flush()
}
