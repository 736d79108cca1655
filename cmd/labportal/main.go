package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/dacut/hpc-lab-maker/api/clients"
	"github.com/dacut/hpc-lab-maker/app"
	"github.com/dacut/hpc-lab-maker/bootstrap"
	"github.com/dacut/hpc-lab-maker/cmd/flags"
	"github.com/dacut/hpc-lab-maker/common"
	"github.com/dacut/hpc-lab-maker/cryptoutils"
)

var flagEventFile = &cli.StringFlag{
	Name:    "file",
	Aliases: []string{"f"},
	Usage:   "YAML file with one event or a list of events (- for stdin)",
	Value:   "-",
}

var flagEventID = &cli.StringFlag{
	Name:     "event-id",
	Required: true,
	Usage:    "event to show",
}

var flagAdminServer = &cli.StringFlag{
	Name:     "server",
	Required: true,
	Usage:    "portal base URL",
	EnvVars:  []string{"LABPORTAL_SERVER"},
}

var flagAdminPassword = &cli.StringFlag{
	Name:     "otp",
	Required: true,
	Usage:    "one-time administrator password",
	EnvVars:  []string{"LABPORTAL_OTP"},
}

var flagHookEvent = &cli.StringFlag{
	Name:  "event",
	Usage: "JSON custom resource event (- for stdin)",
	Value: "-",
}

var flagKeygenBits = &cli.IntFlag{
	Name:  "bits",
	Value: cryptoutils.DefaultKeyBits,
	Usage: "RSA key size",
}

var flagKeygenComment = &cli.StringFlag{
	Name:  "comment",
	Value: "labportal",
	Usage: "public key comment",
}

func main() {
	cliApp := &cli.App{
		Name:    common.PackageName,
		Usage:   "Self-service lab instance portal",
		Version: common.Version,
		Flags:   append(append([]cli.Flag{}, flags.LogFlags...), flags.StoreFlags...),
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Serve the portal API",
				Flags:  append(append([]cli.Flag{}, flags.ServerFlags...), flags.SiteURLFlag),
				Action: runServe,
			},
			{
				Name:   "hook",
				Usage:  "Handle one CloudFormation custom resource event",
				Flags:  []cli.Flag{flagHookEvent, flags.SiteURLFlag},
				Action: runHook,
			},
			{
				Name:  "event",
				Usage: "Manage events",
				Subcommands: []*cli.Command{
					{
						Name:   "put",
						Usage:  "Create events or replace their defaults",
						Flags:  []cli.Flag{flagEventFile},
						Action: runEventPut,
					},
					{
						Name:   "push",
						Usage:  "Create or update events through a running portal's admin API",
						Flags:  []cli.Flag{flagEventFile, flagAdminServer, flagAdminPassword},
						Action: runEventPush,
					},
					{
						Name:   "show",
						Usage:  "Print an event as YAML",
						Flags:  []cli.Flag{flagEventID},
						Action: runEventShow,
					},
				},
			},
			{
				Name:   "keygen",
				Usage:  "Generate and print an SSH keypair",
				Flags:  []cli.Flag{flagKeygenBits, flagKeygenComment, flags.SSHKeygenFlag},
				Action: runKeygen,
			},
		},
	}

	if err := cliApp.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func openApp(cCtx *cli.Context, logger *slog.Logger) (*app.App, error) {
	a, err := app.New(cCtx.Context, flags.AppConfig(cCtx), logger)
	if err != nil {
		logger.Error("Failed to initialize", "err", err)
		return nil, err
	}
	return a, nil
}

func runServe(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	a, err := openApp(cCtx, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	server, err := a.NewServer(cCtx.Context, flags.ConfigureServer(cCtx, logger))
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Server shutdown complete")
	return nil
}

func runHook(cCtx *cli.Context) error {
	a, err := openApp(cCtx, flags.SetupLogger(cCtx))
	if err != nil {
		return err
	}
	defer a.Close()

	raw, err := readInput(cCtx.String(flagHookEvent.Name))
	if err != nil {
		return err
	}

	var ev bootstrap.Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return fmt.Errorf("invalid custom resource event: %w", err)
	}
	if ev.ResourceType == "" || ev.ResponseURL == "" {
		return errors.New("custom resource event needs ResourceType and ResponseURL")
	}

	resp, err := a.Hook().Run(cCtx.Context, &ev)
	if err != nil {
		return err
	}
	if resp.Status != bootstrap.StatusSuccess {
		return fmt.Errorf("custom resource failed: %s", resp.Reason)
	}
	return nil
}

func runEventPut(cCtx *cli.Context) error {
	a, err := openApp(cCtx, flags.SetupLogger(cCtx))
	if err != nil {
		return err
	}
	defer a.Close()

	raw, err := readInput(cCtx.String(flagEventFile.Name))
	if err != nil {
		return err
	}

	events, err := app.LoadEvents(bytes.NewReader(raw))
	if err != nil {
		return err
	}
	return a.PutEvents(cCtx.Context, events)
}

func runEventPush(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	raw, err := readInput(cCtx.String(flagEventFile.Name))
	if err != nil {
		return err
	}

	events, err := app.LoadEvents(bytes.NewReader(raw))
	if err != nil {
		return err
	}

	client := clients.NewAdminClient(cCtx.String(flagAdminServer.Name), cCtx.String(flagAdminPassword.Name))
	for _, event := range events {
		stored, err := client.PutEvent(cCtx.Context, event)
		if err != nil {
			return err
		}
		logger.Info("Event pushed", slog.String("event_id", stored.EventID), slog.Int64("next_uid", stored.NextUID))
	}
	return nil
}

func runEventShow(cCtx *cli.Context) error {
	a, err := openApp(cCtx, flags.SetupLogger(cCtx))
	if err != nil {
		return err
	}
	defer a.Close()

	event, err := a.Store().GetEvent(cCtx.Context, cCtx.String(flagEventID.Name))
	if err != nil {
		return err
	}
	return app.WriteEvent(os.Stdout, event)
}

func runKeygen(cCtx *cli.Context) error {
	gen := app.NewKeyGenerator(cCtx.String(flags.SSHKeygenFlag.Name))

	pair, err := gen.GenerateKeyPair(cCtx.Context, cCtx.String(flagKeygenComment.Name), cCtx.Int(flagKeygenBits.Name))
	if err != nil {
		return err
	}

	fmt.Print(string(pair.PrivateKey))
	fmt.Print(string(pair.PublicKey))
	return nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path)
}
