package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/pipelined/livefx/config"
	"github.com/pipelined/livefx/connections"
	"github.com/pipelined/livefx/driver/wav"
	"github.com/pipelined/livefx/fader"
	"github.com/pipelined/livefx/ircache"
	"github.com/pipelined/livefx/log"
	"github.com/pipelined/livefx/metric"
	"github.com/pipelined/livefx/session"
)

type watchCommand struct {
	*flags
	out         string
	metricsAddr string
	play        string
	recall      bool
}

func newWatchCmd(f *flags) *cobra.Command {
	w := &watchCommand{flags: f}
	cmd := &cobra.Command{
		Use:   "watch [source...]",
		Short: "Play effects and rebuild them when sources change",
		Long: `Loads effects of the config and provided sources, plays the first one
and swaps it with a crossfade every time its source is saved.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return w.run(ctx, args)
		},
	}
	cmd.Flags().StringVar(&w.out, "out", "livefx.wav", "wav file to render into")
	cmd.Flags().StringVar(&w.metricsAddr, "metrics-addr", "", "address to serve prometheus metrics")
	cmd.Flags().StringVar(&w.play, "play", "", "effect to play, first one by default")
	cmd.Flags().BoolVar(&w.recall, "recall", true, "restore unchanged effects from IR cache")
	return cmd
}

// specs returns effects of config followed by effects of sources.
func (w *watchCommand) specs(c config.Config, sources []string) []session.Spec {
	specs := make([]session.Spec, 0, len(c.Effects)+len(sources))
	for _, e := range c.Effects {
		specs = append(specs, session.Spec{
			Name:     e.Name,
			Source:   e.Source,
			Options:  e.Options,
			OptLevel: e.OptLevel,
			Locality: c.EffectLocality(e),
			Endpoint: endpoint(c),
			Recalled: w.recall,
		})
	}
	for _, source := range sources {
		specs = append(specs, session.Spec{
			Name:     strings.TrimSuffix(filepath.Base(source), filepath.Ext(source)),
			Source:   source,
			OptLevel: 3,
			Locality: c.EffectLocality(config.Effect{}),
			Endpoint: endpoint(c),
			Recalled: w.recall,
		})
	}
	return specs
}

func (w *watchCommand) run(ctx context.Context, sources []string) error {
	c, err := w.load()
	if err != nil {
		return err
	}
	specs := w.specs(c, sources)
	if len(specs) == 0 {
		return errors.New("no effects to play")
	}
	l := log.GetLogger()

	registry := prometheus.NewRegistry()
	m := metric.New(registry)
	if w.metricsAddr != "" {
		srv := &http.Server{
			Addr:              w.metricsAddr,
			Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				l.Errorf("metrics server: %v", err)
			}
		}()
		defer srv.Close()
	}

	cache, err := ircache.Open(c.IRCacheDir)
	if err != nil {
		return err
	}
	defer cache.Close()

	f, err := os.Create(w.out)
	if err != nil {
		return err
	}
	defer f.Close()
	driver := wav.New(f, c.Audio.SampleRate, c.Audio.BufferSize, c.Audio.NumChannels)
	defer driver.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	manager := fader.NewManager(driver, c.Cardinality(),
		fader.WithDuration(c.Fade.Duration),
		fader.WithCurve(c.Curve()),
		fader.WithSettings(c.Net),
		fader.WithConnections(connections.New(driver)),
		fader.WithMetric(m),
		fader.WithShutdown(func(err error) { cancel() }),
	)
	s := session.New(manager,
		session.WithCompiler(newCompiler(c)),
		session.WithCache(cache),
		session.WithPaths(paths(c)),
		session.WithDebounce(c.Debounce),
		session.WithMetric(m),
		session.WithErrorHandler(func(name string, err error) {
			l.Errorf("%s: %v", name, err)
		}),
		session.WithRebuildHandler(func(name string) {
			l.Infof("%s rebuilt", name)
		}),
	)
	defer s.Close()

	if err := s.Load(ctx, specs...); err != nil {
		l.Warnf("load: %v", err)
	}
	play := w.play
	if play == "" {
		play = specs[0].Name
	}
	if err := s.Play(play); err != nil {
		return fmt.Errorf("play %s: %w", play, err)
	}
	if err := manager.ConnectAudio(c.HomeDir); err != nil {
		l.Warnf("connect audio: %v", err)
	}
	defer func() {
		if err := manager.SaveConnections(c.HomeDir); err != nil {
			l.Warnf("save connections: %v", err)
		}
	}()
	l.Infof("playing %s into %s, sample rate %d, buffer size %d", play, w.out, manager.SampleRate(), manager.BufferSize())
	return driver.Run(ctx)
}
