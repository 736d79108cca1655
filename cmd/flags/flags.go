package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/dacut/hpc-lab-maker/app"
	"github.com/dacut/hpc-lab-maker/common"
	"github.com/dacut/hpc-lab-maker/cryptoutils"
	"github.com/dacut/hpc-lab-maker/httpserver"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String(LogServiceFlag.Name)

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               cCtx.String(ListenAddrFlag.Name),
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

// AppConfig collects the deployment flags.
func AppConfig(cCtx *cli.Context) app.Config {
	return app.Config{
		StoreURI:       cCtx.String(StoreFlag.Name),
		KMSURI:         cCtx.String(KMSFlag.Name),
		Deployment:     cCtx.String(DeploymentFlag.Name),
		Region:         cCtx.String(RegionFlag.Name),
		EC2Endpoint:    cCtx.String(EC2EndpointFlag.Name),
		PasswordRounds: cCtx.Int(PasswordRoundsFlag.Name),
		KeyBits:        cCtx.Int(KeyBitsFlag.Name),
		SSHKeygenPath:  cCtx.String(SSHKeygenFlag.Name),
		SessionTTL:     cCtx.Duration(SessionTTLFlag.Name),
		SecureCookies:  cCtx.Bool(SecureCookiesFlag.Name),
		SiteURL:        cCtx.String(SiteURLFlag.Name),
		MetricsAddr:    cCtx.String(MetricsAddrFlag.Name),
	}
}

var StoreFlag = &cli.StringFlag{
	Name:    "store",
	Value:   "dynamodb://HPCLab?region=us-west-2",
	EnvVars: []string{"LABPORTAL_STORE"},
	Usage:   "credential store URI: dynamodb://<prefix>, postgres://..., or memory://",
}

var KMSFlag = &cli.StringFlag{
	Name:    "kms",
	EnvVars: []string{"LABPORTAL_KMS", "ENCRYPTION_KEY_ID"},
	Usage:   "key manager URI wrapping the session secret: aws-kms://alias/<name>, vault://..., or local://?key=<hex>",
}

var DeploymentFlag = &cli.StringFlag{
	Name:    "deployment",
	Value:   "default",
	EnvVars: []string{"LABPORTAL_DEPLOYMENT"},
	Usage:   "deployment name bound into the session secret's encryption context",
}

var RegionFlag = &cli.StringFlag{
	Name:    "region",
	Value:   "us-west-2",
	EnvVars: []string{"AWS_REGION"},
	Usage:   "AWS region for EC2",
}

var EC2EndpointFlag = &cli.StringFlag{
	Name:    "ec2-endpoint",
	EnvVars: []string{"LABPORTAL_EC2_ENDPOINT"},
	Usage:   "override the EC2 API endpoint",
}

var PasswordRoundsFlag = &cli.IntFlag{
	Name:    "password-rounds",
	Value:   cryptoutils.DefaultPasswordRounds,
	EnvVars: []string{"PBKDF2_SHA512_ROUNDS"},
	Usage:   "pbkdf2-sha512 iterations for new password hashes",
}

var KeyBitsFlag = &cli.IntFlag{
	Name:    "key-bits",
	Value:   cryptoutils.DefaultKeyBits,
	EnvVars: []string{"LABPORTAL_KEY_BITS"},
	Usage:   "RSA size of generated user keypairs (1024, 2048 or 4096)",
}

var SSHKeygenFlag = &cli.StringFlag{
	Name:    "ssh-keygen",
	EnvVars: []string{"LABPORTAL_SSH_KEYGEN"},
	Usage:   "path to ssh-keygen; keys are generated in process when unset",
}

var SessionTTLFlag = &cli.DurationFlag{
	Name:    "session-ttl",
	Value:   12 * time.Hour,
	EnvVars: []string{"LABPORTAL_SESSION_TTL"},
	Usage:   "lifetime of a login session",
}

var SecureCookiesFlag = &cli.BoolFlag{
	Name:    "secure-cookies",
	Value:   true,
	EnvVars: []string{"LABPORTAL_SECURE_COOKIES"},
	Usage:   "mark session cookies Secure (disable for plain-HTTP development)",
}

var SiteURLFlag = &cli.StringFlag{
	Name:    "site-url",
	EnvVars: []string{"LABPORTAL_SITE_URL"},
	Usage:   "public portal URL reported to Custom::SiteURLRetrieval resources",
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	EnvVars: []string{"LABPORTAL_LISTEN_ADDR"},
	Usage:   "address to listen on for API",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}
var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:    "metrics-addr",
	Value:   "127.0.0.1:8090",
	EnvVars: []string{"LABPORTAL_METRICS_ADDR"},
	Usage:   "address to listen on for Prometheus metrics",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
}

var StoreFlags = []cli.Flag{
	StoreFlag,
	PasswordRoundsFlag,
}

var ServerFlags = []cli.Flag{
	ListenAddrFlag,
	KMSFlag,
	DeploymentFlag,
	RegionFlag,
	EC2EndpointFlag,
	KeyBitsFlag,
	SSHKeygenFlag,
	SessionTTLFlag,
	SecureCookiesFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
