package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/callme/config"
	"github.com/opd-ai/callme/identity"
	"github.com/opd-ai/callme/rpc"
	"github.com/opd-ai/callme/transport"
	"github.com/opd-ai/callme/voice"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "callme-rpc-server",
	Short: "Voice call signaling node with a JSON-RPC control surface",
	Long: `callme-rpc-server runs a voice call session manager bound to a UDP
signaling transport and exposes it over JSON-RPC, on stdin/stdout and
optionally over WebSocket.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"path to YAML config file")
}

func run(parent context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg.ApplyLogging()

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	nodeIdentity, err := identity.Generate()
	if err != nil {
		return fmt.Errorf("generate node identity: %w", err)
	}

	udp, err := transport.NewUDPTransport(cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("start signaling transport: %w", err)
	}
	defer udp.Close()

	var signalingTransport transport.Transport = udp
	if cfg.Noise {
		secure, err := transport.NewSecureTransport(udp, nodeIdentity.PrivateKey())
		if err != nil {
			return fmt.Errorf("wrap transport with noise: %w", err)
		}
		signalingTransport = secure
	}

	// Peer addresses on the wire are UDP host:port strings.
	resolver := func(peer voice.PeerAddress) (net.Addr, error) {
		return net.ResolveUDPAddr("udp", string(peer))
	}

	adapter, err := voice.NewAdapter(signalingTransport, resolver, nodeIdentity)
	if err != nil {
		return fmt.Errorf("create signaling adapter: %w", err)
	}

	manager, err := voice.NewManager(adapter, nodeIdentity)
	if err != nil {
		return fmt.Errorf("create call manager: %w", err)
	}
	if err := manager.SetRingTimeout(cfg.RingTimeout); err != nil {
		return err
	}
	if err := adapter.Bind(manager); err != nil {
		return fmt.Errorf("bind adapter: %w", err)
	}

	manager.SetEventCallback(func(event voice.CallEvent) {
		adapter.HandleEvent(event)
		logrus.WithFields(logrus.Fields{
			"call_id": event.CallID,
			"event":   event.Type.String(),
			"peer":    event.Peer,
		}).Info("Call event")
	})

	defer func() {
		if err := manager.Shutdown(); err != nil {
			logrus.WithError(err).Warn("Manager shutdown reported an error")
		}
	}()

	dispatcher, err := rpc.NewDispatcher(manager)
	if err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"node_id":     nodeIdentity.NodeID(),
		"listen_addr": signalingTransport.LocalAddr().String(),
	}).Info("Node started")

	errCh := make(chan error, 2)
	serving := 0

	if cfg.WSAddr != "" {
		wsServer, err := rpc.NewWSServer(dispatcher)
		if err != nil {
			return err
		}
		serving++
		go func() {
			errCh <- wsServer.ListenAndServe(ctx, cfg.WSAddr)
		}()
	}

	if cfg.Stdio {
		stdioServer, err := rpc.NewStdioServer(dispatcher, os.Stdin, os.Stdout)
		if err != nil {
			return err
		}
		serving++
		go func() {
			errCh <- stdioServer.Serve(ctx)
		}()
	}

	if serving == 0 {
		return fmt.Errorf("no RPC surface enabled: set stdio or ws_addr")
	}

	select {
	case <-ctx.Done():
		logrus.Info("Shutting down")
		return nil
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}
}
