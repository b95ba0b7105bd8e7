package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/samber/do"
	"github.com/serroba/campaign-attribution/internal/campaign"
	"github.com/serroba/campaign-attribution/internal/container"
	"github.com/serroba/campaign-attribution/internal/estimator"
	"go.uber.org/zap"
)

// Options configures a one-off estimation run. Estimates are advisory and never written back.
type Options struct {
	DatabaseURL string `help:"Postgres connection string, empty for in-memory storage"`
	LogFormat   string `default:"console" help:"Log encoding: console or json"`
	Rules       string `help:"YAML file overriding the rule tables"`
	Tenant      string `help:"Only conversions of this tenant"`
	From        string `help:"Conversions created at or after, RFC 3339 or YYYY-MM-DD"`
	To          string `help:"Conversions created before, RFC 3339 or YYYY-MM-DD (inclusive)"`
	ReportOnly  bool   `help:"Print the distribution as JSON instead of the CSV"`
	Output      string `default:"-" help:"CSV destination, - for stdout"                   short:"o"`
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, options *Options) {
		injector := do.New()
		do.ProvideValue(injector, &container.Options{
			DatabaseURL:    options.DatabaseURL,
			LogFormat:      options.LogFormat,
			EstimatorRules: options.Rules,
		})
		container.LoggerPackage(injector)
		container.PostgresPackage(injector)
		container.RepositoryPackage(injector)
		container.ServicePackage(injector)

		logger := do.MustInvoke[*zap.Logger](injector)

		hooks.OnStart(func() {
			err := estimate(context.Background(), do.MustInvoke[*estimator.Reporter](injector), options)

			if shutdownErr := injector.Shutdown(); shutdownErr != nil {
				logger.Error("shutdown error", zap.Error(shutdownErr))
			}

			if err != nil {
				logger.Fatal("estimation failed", zap.Error(err))
			}
		})
	})

	cli.Run()
}

func estimate(ctx context.Context, reporter *estimator.Reporter, options *Options) error {
	from, err := campaign.ParseBound(options.From, false)
	if err != nil {
		return err
	}

	to, err := campaign.ParseBound(options.To, true)
	if err != nil {
		return err
	}

	var w campaign.Window
	if from != nil {
		w.From = *from
	}

	if to != nil {
		w.To = *to
	}

	report, err := reporter.Report(ctx, estimator.ReportFilter{TenantID: options.Tenant, Window: w})
	if err != nil {
		return err
	}

	if options.ReportOnly {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(report.Summary)
	}

	var out io.Writer = os.Stdout

	if options.Output != "-" {
		f, err := os.Create(options.Output)
		if err != nil {
			return fmt.Errorf("create %s: %w", options.Output, err)
		}
		defer f.Close()

		out = f
	}

	return estimator.WriteCSV(out, report.Estimates)
}
