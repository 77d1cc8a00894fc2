package main

import (
	"context"

	"github.com/alecthomas/kong"
	"github.com/wolfeidau/tenantctl/cmd/tenantctl/internal/commands"
)

var (
	version = "dev"
	cli     struct {
		Debug     bool `help:"Enable debug mode."`
		Version   kong.VersionFlag
		Worker    commands.WorkerCmd    `cmd:"" help:"Run the tenant operations worker"`
		Submit    commands.SubmitCmd    `cmd:"" help:"Submit a tenant operation"`
		Status    commands.StatusCmd    `cmd:"" help:"Show the registry record for a tenant"`
		Bootstrap commands.BootstrapCmd `cmd:"" help:"Create control-plane tables and queues"`
	}
)

func main() {
	ctx := context.Background()
	cmd := kong.Parse(&cli,
		kong.Vars{
			"version": version,
		},
		kong.BindTo(ctx, (*context.Context)(nil)))
	err := cmd.Run(&commands.Globals{Debug: cli.Debug, Version: version})
	cmd.FatalIfErrorf(err)
}
