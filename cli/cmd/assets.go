package cmd

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/fluxbase-eu/bundlebridge/cli/output"
	"github.com/fluxbase-eu/bundlebridge/internal/assets"
	"github.com/fluxbase-eu/bundlebridge/internal/storage"
)

var assetsCmd = &cobra.Command{
	Use:   "assets",
	Short: "Inspect and deploy binary assets from the shared registry",
	Long: `Binary imports found while compiling with the redis registry are pushed
to a shared list. These commands read that list and upload the files to the
configured storage.`,
}

var assetsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered binary assets",
	Example: `  bundlebridge assets list
  bundlebridge assets list -o json`,
	PreRunE: requireConfig,
	RunE:    runAssetsList,
}

var assetsDeployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Upload registered binary assets to storage",
	Long: `Upload every binary asset in the shared registry to the configured
storage bucket, then clear the registry.

Examples:
  bundlebridge assets deploy
  bundlebridge assets deploy --keep`,
	PreRunE: requireConfig,
	RunE:    runAssetsDeploy,
}

var assetsKeep bool

func init() {
	assetsDeployCmd.Flags().BoolVar(&assetsKeep, "keep", false, "keep records in the registry after deploying")

	assetsCmd.AddCommand(assetsListCmd)
	assetsCmd.AddCommand(assetsDeployCmd)
}

func openRegistry(cmd *cobra.Command) (*assets.RedisStore, error) {
	return assets.NewRedisStore(cmd.Context(), cfg.Redis.URL, cfg.Redis.Key)
}

func runAssetsList(cmd *cobra.Command, args []string) error {
	registry, err := openRegistry(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	records, err := registry.Records(cmd.Context())
	if err != nil {
		return err
	}

	if formatter.Structured() {
		return formatter.Print(records)
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		rows = append(rows, []string{string(rec.ChunkType), rec.Path})
	}
	formatter.PrintTable(output.TableData{Headers: []string{"Type", "Path"}, Rows: rows})
	return nil
}

func runAssetsDeploy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	registry, err := openRegistry(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = registry.Close() }()

	records, err := registry.Records(ctx)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		formatter.PrintSuccess("No binary assets registered")
		return nil
	}

	store, err := storage.New(cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to create asset storage: %w", err)
	}
	if err := store.Health(ctx); err != nil {
		return fmt.Errorf("asset storage unavailable: %w", err)
	}

	manager := assets.NewDeployManager(store, cfg.Storage.Bucket, afero.NewOsFs())
	for _, rec := range records {
		manager.AddBinaryAsset(rec)
	}

	deployments, err := manager.Deploy(ctx)
	if err != nil {
		return err
	}

	if !assetsKeep {
		if err := registry.Clear(ctx); err != nil {
			return err
		}
	}

	if formatter.Structured() {
		return formatter.Print(deployments)
	}
	rows := make([][]string, 0, len(deployments))
	for _, d := range deployments {
		rows = append(rows, []string{string(d.Record.ChunkType), d.Record.Path, d.Object.Bucket + "/" + d.Object.Key, d.Object.ETag})
	}
	formatter.PrintTable(output.TableData{Headers: []string{"Type", "Asset", "Object", "ETag"}, Rows: rows})
	formatter.PrintSuccess(fmt.Sprintf("Deployed %d binary asset(s) to %s", len(deployments), store.Name()))
	return nil
}
