package main

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v3"

	"github.com/smol-labs/homelab-bootstrap/internal/argocd"
	"github.com/smol-labs/homelab-bootstrap/internal/argocd/client"
	"github.com/smol-labs/homelab-bootstrap/internal/config"
	"github.com/smol-labs/homelab-bootstrap/internal/kube"
	"github.com/smol-labs/homelab-bootstrap/internal/logging"
	"github.com/smol-labs/homelab-bootstrap/internal/provision"
	"github.com/smol-labs/homelab-bootstrap/internal/run"
	"github.com/smol-labs/homelab-bootstrap/internal/secrets"
	"github.com/smol-labs/homelab-bootstrap/internal/storage"
	"github.com/smol-labs/homelab-bootstrap/internal/zitadel"
)

const (
	version = "0.1.0"

	// zitadelProject is the Zitadel project all OIDC clients live under.
	zitadelProject = "homelab"

	// zitadelKeySecret is written by the Zitadel chart at first boot and
	// holds the machine key for the admin service account.
	zitadelKeySecret = "zitadel-admin-sa"
	zitadelKeyField  = "zitadel-admin-sa.json"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Run(context.Background(), os.Args); err != nil {
		logging.WithError(err).Fatal("Bootstrap failed")
	}
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:    "homelab-bootstrap",
		Version: version,
		Usage:   "Register a homelab's Argo CD applications and provision their credentials",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to the install config file",
			},
			&cli.StringFlag{
				Name:    "kubeconfig",
				Sources: cli.EnvVars("KUBECONFIG"),
				Usage:   "Path to the kubeconfig; in-cluster config when empty",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Value: "text",
				Usage: "Log format (text, json)",
			},
		},
		Action: runBootstrap,
	}
}

func runBootstrap(ctx context.Context, cmd *cli.Command) error {
	logging.SetLevel(cmd.String("log-level"))
	logging.SetFormat(cmd.String("log-format"))

	log := logging.GetLogger()
	log.WithFields(logrus.Fields{
		"version": version,
		"pid":     os.Getpid(),
	}).Info("Starting homelab bootstrap")

	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}

	cluster, err := kube.NewGatewayFromKubeconfig(cmd.String("kubeconfig"))
	if err != nil {
		return err
	}

	// The secret backend is picked once per run. The vault is unlocked here
	// already because config values may reference vault items; the unlock in
	// Installer.Run is then a no-op on the cached session.
	var (
		backend secrets.Backend
		lookup  config.ItemFieldLookup
	)
	if cfg.VaultEnabled() {
		password, err := cfg.VaultPassword().Resolve(nil)
		if err != nil {
			return err
		}
		bw := secrets.NewBitwardenCLI(&run.ExecRunner{}, cluster, password)
		if err := bw.Unlock(ctx); err != nil {
			return err
		}
		lookup = bw.LookupField(ctx)
		backend = bw
		log.Info("Using the Bitwarden vault secret strategy")
	} else {
		backend = secrets.NewClusterBackend(cluster)
		log.Info("Using the plain cluster Secret strategy")
	}

	argoCfg := cfg.ArgoCD()
	token, err := argoCfg.AuthToken.Resolve(lookup)
	if err != nil {
		return err
	}

	apiClient, err := client.New(&client.Config{
		ServerAddr: argoCfg.ServerAddr,
		AuthToken:  token,
		PlainText:  argoCfg.PlainText,
		Insecure:   argoCfg.Insecure,
		UserAgent:  "homelab-bootstrap/" + version,
	})
	if err != nil {
		return err
	}
	defer apiClient.Close()

	registry := argocd.NewRegistry(apiClient, cluster, argoCfg.Namespace)
	prov := provision.NewProvisioner(backend, cluster)

	newBridge := func(ctx context.Context, hostname string) (provision.IdentityBridge, error) {
		return dialIdentityBridge(ctx, cfg, cluster, backend, hostname)
	}
	newStore := func(storeCfg storage.Config) (provision.ObjectStore, error) {
		return storage.NewObjectStore(storeCfg)
	}

	installer := provision.NewInstaller(cfg, registry, prov, cluster, lookup, newBridge, newStore)
	return installer.Run(ctx)
}

// dialIdentityBridge reads the service-account machine key the identity
// provider minted at boot and opens an authenticated management session.
func dialIdentityBridge(ctx context.Context, cfg *config.Context, cluster kube.Interface,
	backend secrets.Backend, hostname string) (provision.IdentityBridge, error) {
	app := cfg.App("zitadel")

	secret, err := cluster.GetSecret(ctx, zitadelKeySecret, app.Argo.Namespace)
	if err != nil {
		return nil, err
	}

	key, err := zitadel.ParseServiceAccountKey(secret.Data[zitadelKeyField])
	if err != nil {
		return nil, err
	}

	api, err := zitadel.NewClient(ctx, "https://"+hostname, key, true)
	if err != nil {
		return nil, err
	}

	argoCfg := cfg.ArgoCD()
	return zitadel.NewBridge(api, backend, hostname, argoCfg.Hostname, argoCfg.Namespace, zitadelProject), nil
}
