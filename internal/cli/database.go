package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/lucasnoah/ymir/internal/api"
	"github.com/lucasnoah/ymir/internal/database"
	"github.com/lucasnoah/ymir/internal/tunnel"
)

var (
	dbUser      string
	dbPassword  string
	dbName      string
	dbLocalPort int
)

// tunnelReadyTimeout bounds how long a query waits for the tunnel.
var tunnelReadyTimeout = 15 * time.Second

var databaseCmd = &cobra.Command{
	Use:     "database",
	Aliases: []string{"db"},
	Short:   "Work with project database servers",
}

var databaseQueryCmd = &cobra.Command{
	Use:   "query <server-id> <sql>",
	Short: "Run a SQL query on a database server, through its bastion host when private",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		server, err := fetchDatabaseServer(ctx, args[0])
		if err != nil {
			return err
		}
		target, err := database.ResolveTarget(server, dbLocalPort)
		if err != nil {
			return err
		}

		if target.Tunnel {
			opener, err := newTunnelOpener(cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}
			proc, err := opener.OpenBastionTunnel(bastionFor(server), target.Port, server.Endpoint, database.DefaultPort)
			if err != nil {
				return err
			}
			defer proc.Stop()
			logger.Debug("tunnel started", "pid", proc.Pid(), "port", target.Port)

			readyCtx, cancel := context.WithTimeout(ctx, tunnelReadyTimeout)
			err = tunnel.WaitForPort(readyCtx, target.Port, 100*time.Millisecond)
			cancel()
			if err != nil {
				return fmt.Errorf("tunnel to %s did not open: %w", server.Name, err)
			}
		}

		dsn := database.DSN(target, database.Credentials{User: dbUser, Password: dbPassword, Database: dbName})
		res, err := database.Query(ctx, dsn, args[1])
		if err != nil {
			return err
		}
		return res.Render(cmd.OutOrStdout())
	},
}

func fetchDatabaseServer(ctx context.Context, rawID string) (api.DatabaseServer, error) {
	id, err := strconv.Atoi(rawID)
	if err != nil || id <= 0 {
		return api.DatabaseServer{}, fmt.Errorf("invalid database server id %q", rawID)
	}
	cliCfg, err := loadCLIConfig()
	if err != nil {
		return api.DatabaseServer{}, err
	}
	client, err := newAPIClient(cliCfg)
	if err != nil {
		return api.DatabaseServer{}, err
	}
	server, err := client.GetDatabaseServer(ctx, id)
	if err != nil {
		return api.DatabaseServer{}, fmt.Errorf("fetch database server %d: %w", id, err)
	}
	return server, nil
}

func bastionFor(server api.DatabaseServer) tunnel.BastionHost {
	if server.BastionHost == nil {
		return tunnel.BastionHost{}
	}
	return tunnel.BastionHost{Endpoint: server.BastionHost.Endpoint, PrivateKey: server.BastionHost.PrivateKey}
}

func init() {
	databaseQueryCmd.Flags().StringVarP(&dbUser, "user", "u", "", "database user")
	databaseQueryCmd.Flags().StringVarP(&dbPassword, "password", "p", "", "database password")
	databaseQueryCmd.Flags().StringVarP(&dbName, "database", "d", "", "database name")
	databaseQueryCmd.Flags().IntVar(&dbLocalPort, "local-port", database.DefaultPort, "local port for the tunnel")
	databaseQueryCmd.MarkFlagRequired("user")
	databaseQueryCmd.MarkFlagRequired("database")

	databaseCmd.AddCommand(databaseQueryCmd)
}
