// Command coap-client drives share-drive operations (download, upload,
// rename, move, delete) against a coap-server over UDP. The source's
// interactive questionary menu is out of scope (§1); each operation is
// instead its own subcommand.
package main

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dtudor/coap-share-drive/pkg/coap"
	"github.com/dtudor/coap-share-drive/pkg/coap/codec"
	"github.com/dtudor/coap-share-drive/pkg/coap/core"
	"github.com/dtudor/coap-share-drive/pkg/coap/definition"
	"github.com/dtudor/coap-share-drive/pkg/sharedrive"
)

const defaultTimeout = 30 * time.Second

func main() {
	var (
		serverAddress string
		serverPort    int
		clientAddress string
		clientPort    int
		logLevel      string
		envFile       string
		configFile    string
	)

	root := &cobra.Command{Use: "coap-client"}
	root.PersistentFlags().StringVar(&serverAddress, "server_address", "127.0.0.1", "server address")
	root.PersistentFlags().IntVar(&serverPort, "server_port", 5683, "server UDP port")
	root.PersistentFlags().StringVar(&clientAddress, "client_address", "127.0.0.1", "address to bind for replies")
	root.PersistentFlags().IntVar(&clientPort, "client_port", 0, "port to bind for replies (0 = ephemeral)")
	root.PersistentFlags().StringVar(&logLevel, "log_level", "info", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&envFile, "env_file", "", "optional .env file overriding Config defaults")
	root.PersistentFlags().StringVar(&configFile, "config_file", "", "optional YAML file overriding Config defaults")

	newClient := func() (*sharedrive.Client, func(), error) {
		log := definition.NewLogger(logLevel)
		cfg, err := core.LoadConfig(envFile, configFile)
		if err != nil {
			return nil, nil, err
		}
		downloads := sharedrive.ClientDownloadsRoot(sharedrive.HomeDir())
		if err := sharedrive.EnsureDir(downloads); err != nil {
			return nil, nil, err
		}

		resource := &sharedrive.ClientResource{Log: log}
		addr := &net.UDPAddr{IP: net.ParseIP(clientAddress), Port: clientPort}
		endpoint, err := coap.NewEndpoint(addr, resource, sharedrive.ClientSinkFactory(downloads), log, nil, cfg)
		if err != nil {
			return nil, nil, err
		}
		resource.Assembler = endpoint.Assembler

		go func() {
			if err := endpoint.Listen(); err != nil {
				log.Errorf("coap-client: listen exited: %v", err)
			}
		}()

		server := codec.PeerFromAddrPort(mustResolve(serverAddress, serverPort))
		client := sharedrive.NewClient(endpoint, server)
		return client, endpoint.Stop, nil
	}

	root.AddCommand(
		downloadCmd(newClient),
		uploadCmd(newClient),
		renameCmd(newClient),
		moveCmd(newClient),
		deleteCmd(newClient),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type clientFactory func() (*sharedrive.Client, func(), error)

func downloadCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "download <remote-path>",
		Short: "download a file or directory from the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, stop, err := newClient()
			if err != nil {
				return err
			}
			defer stop()
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()
			return client.Download(ctx, args[0])
		},
	}
}

func uploadCmd(newClient clientFactory) *cobra.Command {
	var remoteDir string
	cmd := &cobra.Command{
		Use:   "upload <local-path>",
		Short: "upload a file or directory to the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, stop, err := newClient()
			if err != nil {
				return err
			}
			defer stop()
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()
			return client.Upload(ctx, args[0], remoteDir)
		},
	}
	cmd.Flags().StringVar(&remoteDir, "remote_dir", ".", "destination directory on the server")
	return cmd
}

func renameCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <remote-path> <new-name>",
		Short: "rename a file or directory on the server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, stop, err := newClient()
			if err != nil {
				return err
			}
			defer stop()
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()
			return client.Rename(ctx, args[0], args[1])
		},
	}
}

func moveCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "move <remote-path> <new-location>",
		Short: "move a file or directory on the server",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, stop, err := newClient()
			if err != nil {
				return err
			}
			defer stop()
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()
			return client.Move(ctx, args[0], args[1])
		},
	}
}

func deleteCmd(newClient clientFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <remote-path>",
		Short: "delete a file or directory on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, stop, err := newClient()
			if err != nil {
				return err
			}
			defer stop()
			ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
			defer cancel()
			return client.Delete(ctx, args[0])
		},
	}
}

func mustResolve(address string, port int) netip.AddrPort {
	return netip.AddrPortFrom(netip.MustParseAddr(address), uint16(port))
}
