// Package app assembles the portal's object graph from configuration.
// Nothing in the portal is global; every command builds one App.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dacut/hpc-lab-maker/bootstrap"
	"github.com/dacut/hpc-lab-maker/common"
	"github.com/dacut/hpc-lab-maker/compute"
	"github.com/dacut/hpc-lab-maker/cryptoutils"
	"github.com/dacut/hpc-lab-maker/httpserver"
	"github.com/dacut/hpc-lab-maker/identity"
	"github.com/dacut/hpc-lab-maker/instances"
	"github.com/dacut/hpc-lab-maker/interfaces"
	"github.com/dacut/hpc-lab-maker/kms"
	"github.com/dacut/hpc-lab-maker/metrics"
	"github.com/dacut/hpc-lab-maker/secretkey"
	"github.com/dacut/hpc-lab-maker/session"
	"github.com/dacut/hpc-lab-maker/storage"
)

var ErrMissingConfig = errors.New("missing configuration")

// Config selects the backends and cost parameters of a deployment.
type Config struct {
	// StoreURI locates the credential store, e.g. dynamodb://HPCLab?region=us-west-2.
	StoreURI string

	// KMSURI locates the key that wraps the session secret.
	KMSURI string

	// Deployment binds the wrapped session secret to this deployment.
	Deployment string

	// Region and EC2Endpoint configure the compute provider.
	Region      string
	EC2Endpoint string

	PasswordRounds int
	KeyBits        int

	// SSHKeygenPath runs ssh-keygen for user keypairs when set; otherwise
	// keys are generated in process.
	SSHKeygenPath string

	SessionTTL    time.Duration
	SecureCookies bool

	// SiteURL is reported to Custom::SiteURLRetrieval resources.
	SiteURL string

	MetricsAddr string
}

// App holds the shared services of one process.
type App struct {
	cfg     Config
	log     *slog.Logger
	store   interfaces.CredentialStore
	metrics *metrics.MetricsServer
}

// New opens the credential store and the metrics registry. Portal
// services that need KMS or EC2 are built by NewServer.
func New(ctx context.Context, cfg Config, log *slog.Logger) (*App, error) {
	if cfg.StoreURI == "" {
		return nil, fmt.Errorf("%w: store URI", ErrMissingConfig)
	}

	store, err := storage.NewStoreFactory(log).StoreFor(ctx, cfg.StoreURI)
	if err != nil {
		return nil, fmt.Errorf("failed to open credential store: %w", err)
	}

	metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
	if err != nil {
		closeStore(store)
		return nil, err
	}

	return &App{cfg: cfg, log: log, store: store, metrics: metricsSrv}, nil
}

// NewWithStore builds an App around an existing store.
func NewWithStore(cfg Config, store interfaces.CredentialStore, log *slog.Logger) (*App, error) {
	metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}
	return &App{cfg: cfg, log: log, store: store, metrics: metricsSrv}, nil
}

// Store returns the credential store.
func (a *App) Store() interfaces.CredentialStore {
	return a.store
}

// Metrics returns the process metrics server.
func (a *App) Metrics() *metrics.MetricsServer {
	return a.metrics
}

// Provisioner returns the bootstrap password provisioner.
func (a *App) Provisioner() *bootstrap.Provisioner {
	return bootstrap.NewProvisioner(a.store, a.cfg.PasswordRounds, a.metrics.Metrics(), a.log.With("component", "bootstrap"))
}

// Hook returns the custom resource hook.
func (a *App) Hook() *bootstrap.Hook {
	return bootstrap.NewHook(a.Provisioner(), a.cfg.SiteURL, a.log.With("component", "hook"))
}

// KeyGenerator returns the configured SSH keypair generator.
func (a *App) KeyGenerator() interfaces.KeyGenerator {
	return NewKeyGenerator(a.cfg.SSHKeygenPath)
}

// NewKeyGenerator runs the ssh-keygen at sshKeygenPath, or generates keys
// in process when the path is empty.
func NewKeyGenerator(sshKeygenPath string) interfaces.KeyGenerator {
	if sshKeygenPath != "" {
		return &cryptoutils.SSHKeygenGenerator{Path: sshKeygenPath}
	}
	return cryptoutils.NewRSAKeyGenerator()
}

// NewServer resolves the session secret and builds the HTTP server. It
// fails when the secret cannot be loaded or created.
func (a *App) NewServer(ctx context.Context, httpCfg *httpserver.HTTPServerConfig) (*httpserver.Server, error) {
	if a.cfg.KMSURI == "" {
		return nil, fmt.Errorf("%w: KMS URI", ErrMissingConfig)
	}
	if a.cfg.Deployment == "" {
		return nil, fmt.Errorf("%w: deployment name", ErrMissingConfig)
	}

	keyManager, err := kms.New(a.cfg.KMSURI, a.log.With("component", "kms"))
	if err != nil {
		return nil, err
	}

	secret, err := secretkey.NewManager(a.store, keyManager, a.cfg.Deployment, a.log.With("component", "secretkey")).SecretKey(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load session secret: %w", err)
	}

	provider, err := compute.NewEC2Provider(a.cfg.Region, a.cfg.EC2Endpoint, a.log.With("component", "ec2"))
	if err != nil {
		return nil, err
	}

	return a.newServer(httpCfg, secret, provider)
}

func (a *App) newServer(httpCfg *httpserver.HTTPServerConfig, secret []byte, provider interfaces.ComputeProvider) (*httpserver.Server, error) {
	m := a.metrics.Metrics()

	ident, err := identity.NewService(a.store, a.KeyGenerator(), identity.Config{
		PasswordRounds: a.cfg.PasswordRounds,
		KeyBits:        a.cfg.KeyBits,
	}, m, a.log.With("component", "identity"))
	if err != nil {
		return nil, err
	}

	lifecycle := instances.NewController(a.store, provider, m, a.log.With("component", "instances"))
	sessions := session.NewManager(secret, a.cfg.SessionTTL, a.cfg.SecureCookies, a.log.With("component", "session"))

	handler := httpserver.NewHandler(ident, lifecycle, sessions, httpCfg.Log)
	admin := httpserver.NewAdminHandler(a.store, a.Provisioner(), httpCfg.Log)

	var metricsSrv *metrics.MetricsServer
	if httpCfg.MetricsAddr != "" {
		metricsSrv = a.metrics
	}
	return httpserver.New(httpCfg, metricsSrv, handler, admin)
}

// Close releases the credential store.
func (a *App) Close() {
	closeStore(a.store)
}

func closeStore(store interfaces.CredentialStore) {
	if c, ok := store.(interface{ Close() }); ok {
		c.Close()
	}
}
