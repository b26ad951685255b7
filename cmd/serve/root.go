// File: cmd/serve/root.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The serve command runs a demonstration echo endpoint. It exists to
// exercise the reactor end to end from the command line; real deployments
// embed the endpoint package and bring their own handler.

package serve

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/momentics/hioload-reactor/api"
	"github.com/momentics/hioload-reactor/endpoint"
)

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start a demo echo endpoint",
	Long: `Start an echo endpoint with the specified configuration. Flags may
also be set through environment variables prefixed with REACTOR_
(e.g. REACTOR_LISTEN=:9000).`,
	RunE: run,
}

func init() {
	cobra.OnInitialize(initConfig)

	ServeCmd.PersistentFlags().String("listen", ":9000", "TCP listen address")
	ServeCmd.PersistentFlags().Int("acceptors", 1, "number of accept loops")
	ServeCmd.PersistentFlags().Int("pollers", 2, "number of poller loops")
	ServeCmd.PersistentFlags().Int("workers", 16, "internal worker pool size")
	ServeCmd.PersistentFlags().Duration("conn-timeout", 30*time.Second, "per-connection idle timeout")
	ServeCmd.PersistentFlags().String("tls-cert", "", "PEM certificate file; enables TLS together with --tls-key")
	ServeCmd.PersistentFlags().String("tls-key", "", "PEM private key file")
	ServeCmd.PersistentFlags().String("metrics", "", "address for the Prometheus metrics listener (disabled when empty)")
	ServeCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
}

// fileTLS loads key material from PEM files at endpoint init.
type fileTLS struct {
	certFile, keyFile string
}

func (l fileTLS) Load() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(l.certFile, l.keyFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}}, nil
}

// echoHandler writes every received chunk straight back.
type echoHandler struct {
	log zerolog.Logger
}

func (h *echoHandler) Process(c api.Conn) api.State {
	buf := make([]byte, 16*1024)
	for {
		n, err := c.Read(buf)
		if n > 0 {
			if _, werr := c.Write(buf[:n]); werr != nil {
				return api.StateClosed
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return api.StateClosed
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				return api.StateOpen
			}
			h.log.Debug().Err(err).Msg("read failed")
			return api.StateClosed
		}
	}
}

func (h *echoHandler) Event(c api.Conn, status api.Status) api.State {
	h.log.Debug().Stringer("status", status).Int("fd", c.Fd()).Msg("connection event")
	return api.StateClosed
}

func (h *echoHandler) Release(api.Conn) {}
func (h *echoHandler) ReleaseCaches()   {}

func run(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	level, err := zerolog.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	log := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)

	cfg := endpoint.DefaultConfig()
	cfg.ListenAddr = viper.GetString("listen")
	cfg.Acceptors = viper.GetInt("acceptors")
	cfg.Pollers = viper.GetInt("pollers")
	cfg.Workers = viper.GetInt("workers")
	cfg.ConnTimeout = viper.GetDuration("conn-timeout")
	cfg.Logger = log

	certFile := viper.GetString("tls-cert")
	keyFile := viper.GetString("tls-key")
	if (certFile == "") != (keyFile == "") {
		return fmt.Errorf("--tls-cert and --tls-key must be set together")
	}
	if certFile != "" {
		cfg.TLS = true
		cfg.TLSLoader = fileTLS{certFile: certFile, keyFile: keyFile}
	}

	ep := endpoint.NewWithConfig(cfg, &echoHandler{log: log})
	if err := ep.Init(); err != nil {
		return err
	}
	if err := ep.Start(); err != nil {
		ep.Destroy()
		return err
	}
	log.Info().Str("addr", ep.Addr()).Msg("echo endpoint serving")

	if maddr := viper.GetString("metrics"); maddr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/metrics", func(w http.ResponseWriter, _ *http.Request) {
			ep.Metrics().WritePrometheus(w)
		})
		go func() {
			if err := http.ListenAndServe(maddr, mux); err != nil {
				log.Error().Err(err).Msg("metrics listener failed")
			}
		}()
		log.Info().Str("addr", maddr).Msg("metrics listening")
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info().Msg("shutting down")
	if err := ep.Stop(); err != nil {
		log.Warn().Err(err).Msg("stop failed")
	}
	return ep.Destroy()
}

// initConfig reads in environment variables if set.
func initConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("reactor")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}
