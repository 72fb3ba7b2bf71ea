// Command coap-server runs a share-drive endpoint: it serves files out
// of <home>/coap/server/resources/share_drive/ over CoAP/UDP.
package main

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/dtudor/coap-share-drive/pkg/coap"
	"github.com/dtudor/coap-share-drive/pkg/coap/blockwise"
	"github.com/dtudor/coap-share-drive/pkg/coap/core"
	"github.com/dtudor/coap-share-drive/pkg/coap/definition"
	"github.com/dtudor/coap-share-drive/pkg/sharedrive"
)

func main() {
	var (
		serverAddress string
		serverPort    int
		metricsAddr   string
		logLevel      string
		envFile       string
		configFile    string
	)

	root := &cobra.Command{
		Use:   "coap-server",
		Short: "serve share-drive resources over CoAP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(serverAddress, serverPort, metricsAddr, logLevel, envFile, configFile)
		},
	}
	root.Flags().StringVar(&serverAddress, "server_address", "127.0.0.1", "address to bind")
	root.Flags().IntVar(&serverPort, "server_port", 5683, "UDP port to bind")
	root.Flags().StringVar(&metricsAddr, "metrics_address", "", "if set, serve Prometheus metrics on this address")
	root.Flags().StringVar(&logLevel, "log_level", "info", "log level: debug, info, warn, error")
	root.Flags().StringVar(&envFile, "env_file", "", "optional .env file overriding Config defaults")
	root.Flags().StringVar(&configFile, "config_file", "", "optional YAML file overriding Config defaults")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(address string, port int, metricsAddr, logLevel, envFile, configFile string) error {
	log := definition.NewLogger(logLevel)

	cfg, err := core.LoadConfig(envFile, configFile)
	if err != nil {
		return err
	}

	home := sharedrive.HomeDir()
	root := sharedrive.ServerResourceRoot(home, sharedrive.ResourceName)
	if err := sharedrive.EnsureDir(root); err != nil {
		return err
	}

	resource := &sharedrive.ServerResource{Root: root, Log: log}

	addr := &net.UDPAddr{IP: net.ParseIP(address), Port: port}
	endpoint, err := coap.NewEndpoint(addr, resource, sharedrive.ServerSinkFactory(root), log, prometheus.DefaultRegisterer, cfg)
	if err != nil {
		return err
	}
	resource.Assembler = endpoint.Assembler
	resource.Splitter = blockwise.NewSplitter(endpoint.Pool, log, cfg)
	endpoint.Register(sharedrive.ResourceName, resource)

	if metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			log.Errorf("metrics server exited: %v", http.ListenAndServe(metricsAddr, mux))
		}()
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Infof("coap-server: shutting down")
		endpoint.Stop()
	}()

	log.Infof("coap-server: listening on %s:%d, serving %s", address, port, root)
	return endpoint.Listen()
}
