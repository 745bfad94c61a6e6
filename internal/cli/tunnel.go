package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/ymir/internal/database"
)

var (
	tunnelLocalPort  int
	tunnelRemotePort int
	tunnelCleanupKey bool
)

var tunnelCmd = &cobra.Command{
	Use:   "tunnel",
	Short: "Open SSH tunnels to private infrastructure",
}

var tunnelOpenCmd = &cobra.Command{
	Use:   "open <server-id>",
	Short: "Forward a local port to a private database server until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		server, err := fetchDatabaseServer(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if server.PubliclyAccessible {
			return fmt.Errorf("database server %q is publicly accessible, connect to %s directly", server.Name, server.Endpoint)
		}

		opener, err := newTunnelOpener(cmd.ErrOrStderr(), tunnelCleanupKey)
		if err != nil {
			return err
		}
		proc, err := opener.OpenBastionTunnel(bastionFor(server), tunnelLocalPort, server.Endpoint, tunnelRemotePort)
		if err != nil {
			return err
		}

		out := newOutput(cmd)
		out.Success("Tunnel to %q open on 127.0.0.1:%d, press Ctrl+C to close it", server.Name, tunnelLocalPort)

		exited := make(chan error, 1)
		go func() { exited <- proc.Wait() }()

		select {
		case <-cmd.Context().Done():
			if err := proc.Stop(); err != nil {
				return err
			}
			out.Info("Tunnel closed")
			return nil
		case err := <-exited:
			if stopErr := proc.Stop(); stopErr != nil && err == nil {
				err = stopErr
			}
			if err != nil {
				return fmt.Errorf("tunnel exited: %w", err)
			}
			return nil
		}
	},
}

func init() {
	tunnelOpenCmd.Flags().IntVar(&tunnelLocalPort, "local-port", database.DefaultPort, "local port to listen on")
	tunnelOpenCmd.Flags().IntVar(&tunnelRemotePort, "remote-port", database.DefaultPort, "port on the database server")
	tunnelOpenCmd.Flags().BoolVar(&tunnelCleanupKey, "cleanup-key", false, "remove the bastion private key when the tunnel closes")

	tunnelCmd.AddCommand(tunnelOpenCmd)
}
