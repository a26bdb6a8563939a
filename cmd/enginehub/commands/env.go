package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/frymanofer/enginehub/pkg/cli"
	"github.com/frymanofer/enginehub/pkg/cluster"
	"github.com/frymanofer/enginehub/pkg/engine"
	"github.com/frymanofer/enginehub/pkg/engine/fbank"
	"github.com/frymanofer/enginehub/pkg/enginehub"
	"github.com/frymanofer/enginehub/pkg/kv"
)

// env is the runtime of one command: config, logger, cluster store and hub.
type env struct {
	cfg      *cli.Config
	logger   *slog.Logger
	store    *kv.Badger
	registry *prometheus.Registry
	hub      *enginehub.Hub
}

// openEnv loads the config and builds a hub over the reference engine. src
// is the microphone handed to every engine; nil disables capture.
func openEnv(src fbank.Source) (*env, error) {
	cfg, err := cli.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := cfg.Logger(os.Stderr, verbose)
	if err != nil {
		return nil, err
	}

	data := cfg.ResolveDataDir()
	store, err := kv.NewBadger(kv.BadgerOptions{
		Dir:    filepath.Join(data, "kv"),
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	hub := enginehub.New(enginehub.Config{
		Factory: fbank.Factory(fbank.Options{
			DataDir:        filepath.Join(data, "engines"),
			RequireLicense: cfg.Engine.RequireLicense,
			Source:         src,
			VoiceRMS:       cfg.Engine.VoiceRMS,
			AcceptScore:    cfg.Engine.AcceptScore,
			ClusterSize:    cfg.Engine.ClusterSize,
		}),
		Cluster: cluster.Config{
			Window:    cfg.Window(),
			Persister: &cluster.KVPersister{Store: store},
		},
		Registerer: reg,
		Logger:     logger,
	})
	return &env{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		registry: reg,
		hub:      hub,
	}, nil
}

// Close destroys every instance, then closes the cluster store.
func (e *env) Close() error {
	return errors.Join(e.hub.Close(), e.store.Close())
}

// create builds the configured instance key and hands it its license.
func (e *env) create(ctx context.Context, key string) (*cli.InstanceConfig, error) {
	return e.createWith(ctx, key, nil)
}

// createWith is create with models replacing the configured ones when
// non-empty.
func (e *env) createWith(ctx context.Context, key string, models []engine.ModelConfig) (*cli.InstanceConfig, error) {
	inst, err := e.cfg.Instance(key)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		models = inst.Models
	}
	var opts []enginehub.InstanceOption
	if inst.Profile != "" {
		opts = append(opts, enginehub.WithProfile(inst.Profile))
	}
	if err := e.hub.CreateInstanceMulti(ctx, key, models, opts...); err != nil {
		return nil, err
	}
	if inst.License != "" {
		ok, err := e.hub.SetLicense(key, inst.License)
		if err != nil {
			return nil, err
		}
		if !ok {
			e.logger.Warn("license rejected", "key", key, "license", cli.MaskLicense(inst.License))
		}
	}
	return inst, nil
}

// restore loads the enrolled targets of key from the data dir.
func (e *env) restore(key string) error {
	ok, err := e.hub.InitVerificationUsingDefaults(key)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no enrolled speaker for %q, run 'enginehub enroll %s <wav>' first", key, key)
	}
	return nil
}
