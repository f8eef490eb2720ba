package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/meshcore/meshnet/internal/adapter"
	mcrypto "github.com/meshcore/meshnet/internal/crypto"
	"github.com/meshcore/meshnet/internal/config"
	"github.com/meshcore/meshnet/internal/identity"
	"github.com/meshcore/meshnet/internal/logging"
	"github.com/meshcore/meshnet/internal/mesh"
	"github.com/meshcore/meshnet/internal/metrics"
	"github.com/meshcore/meshnet/internal/transport"
	"github.com/meshcore/meshnet/internal/transport/direct"
	"github.com/meshcore/meshnet/internal/transport/radio"
	"github.com/meshcore/meshnet/internal/transport/rendezvous"
)

var (
	runConfigPath string
	runDataDir    string
	runMetricsAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a mesh node and run until interrupted",
	Long: `run loads (or creates) the node's sealed identity, brings up
every transport variant enabled in configuration, starts the MeshNetwork
facade, and serves Prometheus metrics until SIGINT/SIGTERM — the same
construction order as the teacher's main.go (env → identity → network →
discovery → servers), generalized from one hard-wired transport to
however many this node's configuration enables.`,
	RunE: runNode,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVar(&runConfigPath, "config", "", "path to a YAML config file (defaults built in if omitted)")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "", "override the config file's node.data_dir")
	runCmd.Flags().StringVar(&runMetricsAddr, "metrics-addr", "127.0.0.1:9090", "bind address for the Prometheus /metrics endpoint")
}

func runNode(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if runConfigPath != "" {
		loaded, err := config.Load(runConfigPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if runDataDir != "" {
		cfg.Node.DataDir = runDataDir
	}

	log := logging.NewLogger(cfg.Node.LogLevel, cfg.Node.LogFormat)

	pass, err := identityPassphrase()
	if err != nil {
		return err
	}
	secrets, err := adapter.NewFileSecretStore(cfg.Node.DataDir, pass)
	if err != nil {
		return fmt.Errorf("open secret store: %w", err)
	}
	id, err := identity.LoadOrGenerate(secrets)
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	log.Info("identity ready", logging.KeyPeerID, string(id.ID))

	transports, err := buildTransports(cfg, id, secrets)
	if err != nil {
		return fmt.Errorf("build transports: %w", err)
	}
	if len(transports) == 0 {
		return fmt.Errorf("no transport enabled in configuration")
	}

	kv, err := adapter.NewFileKeyValueStore(cfg.Node.DataDir + "/outbox")
	if err != nil {
		return fmt.Errorf("open outbox store: %w", err)
	}

	reg := prometheus.NewRegistry()
	met := metrics.NewMetricsWithRegistry(reg)

	cb := mesh.Callbacks{
		OnMessageDelivered: func(sender identity.PeerID, plaintext []byte, ts time.Time) {
			log.Info("message delivered", logging.KeyPeerID, string(sender), "bytes", len(plaintext))
		},
		OnPeerConnected: func(info transport.PeerInfo) {
			log.Info("peer connected", logging.KeyPeerID, string(info.PeerID), logging.KeyTransport, info.TransportType)
		},
		OnPeerDisconnected: func(peerID identity.PeerID) {
			log.Info("peer disconnected", logging.KeyPeerID, string(peerID))
		},
		OnDeliveryFailed: func(id string, recipientID identity.PeerID, reason string) {
			log.Warn("delivery failed", "outbox_id", id, logging.KeyPeerID, string(recipientID), logging.KeyError, reason)
		},
		OnDiscoveryUpdate: func(summary string) {
			log.Debug("discovery update", "summary", summary)
		},
		OnError: func(err error, context string) {
			log.Error("mesh error", logging.KeyError, err.Error(), logging.KeyComponent, context)
		},
		OnReady: func() {
			log.Info("mesh network ready")
		},
	}

	m, err := mesh.New(cfg, id, transports, kv, adapter.SystemClock{}, log, met, cb)
	if err != nil {
		return fmt.Errorf("construct mesh network: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("start mesh network: %w", err)
	}

	metricsSrv := &http.Server{
		Addr:              runMetricsAddr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("metrics endpoint listening", "addr", runMetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", logging.KeyError, err.Error())
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	return m.Shutdown()
}

// buildTransports constructs one transport.Transport per enabled variant
// in cfg.Transport (spec §4.4); radio's pre-shared key is sealed in the
// same secret store as the node identity, generated on first use.
func buildTransports(cfg *config.Config, id *identity.Identity, secrets *adapter.FileSecretStore) ([]transport.Transport, error) {
	var out []transport.Transport

	if cfg.Transport.Direct.Enabled {
		t, err := direct.New(id.SignKeys.Private)
		if err != nil {
			return nil, fmt.Errorf("direct transport: %w", err)
		}
		out = append(out, t)
	}

	if cfg.Transport.Radio.Enabled {
		key, err := radioPSK(secrets)
		if err != nil {
			return nil, fmt.Errorf("radio pre-shared key: %w", err)
		}
		var iface *net.Interface
		if cfg.Transport.Radio.Interface != "" {
			iface, err = pickRadioInterface(cfg.Transport.Radio.Interface)
			if err != nil {
				return nil, fmt.Errorf("radio interface %q: %w", cfg.Transport.Radio.Interface, err)
			}
		}
		out = append(out, radio.New(radio.Config{
			Group: cfg.Transport.Radio.MulticastAddr,
			Port:  cfg.Transport.Radio.Port,
			Iface: iface,
		}, key))
	}

	if cfg.Transport.Rendezvous.Enabled {
		u, err := url.Parse(cfg.Transport.Rendezvous.Endpoint)
		if err != nil {
			return nil, fmt.Errorf("rendezvous endpoint %q: %w", cfg.Transport.Rendezvous.Endpoint, err)
		}
		out = append(out, rendezvous.New(*u, id.ID))
	}

	return out, nil
}

const radioPSKSecretName = "radio-psk"

func radioPSK(secrets *adapter.FileSecretStore) ([32]byte, error) {
	var key [32]byte
	raw, err := secrets.Get(radioPSKSecretName)
	if err == nil && len(raw) == 32 {
		copy(key[:], raw)
		return key, nil
	}

	fresh, err := mcrypto.RandomBytes(32)
	if err != nil {
		return key, err
	}
	if err := secrets.Put(radioPSKSecretName, fresh); err != nil {
		return key, err
	}
	copy(key[:], fresh)
	return key, nil
}
