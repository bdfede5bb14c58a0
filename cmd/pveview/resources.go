package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/rcourtman/pveview/internal/config"
	apierrors "github.com/rcourtman/pveview/internal/errors"
	"github.com/rcourtman/pveview/internal/logging"
	"github.com/rcourtman/pveview/internal/resources"
	"github.com/rcourtman/pveview/internal/viewsync"
	"github.com/rcourtman/pveview/pkg/pve"
	"github.com/spf13/cobra"
)

var (
	listTypes    []string
	listSearch   string
	listNode     string
	listPool     string
	listSort     string
	listDesc     bool
	listColumns  string
	listOutput   string
	listViewFile string
)

var resourcesCmd = &cobra.Command{
	Use:   "resources",
	Short: "Fetch the cluster resources once and print them",
	Long: `Fetch the cluster resource listing once, apply the same filtering and
ordering the live view uses, and print the result as a table or JSON.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runResources(cmd.Context(), cmd.OutOrStdout())
	},
}

func init() {
	flags := resourcesCmd.Flags()
	flags.StringSliceVarP(&listTypes, "type", "t", nil, "resource types to show (node, qemu, lxc, storage, pool, sdn)")
	flags.StringVarP(&listSearch, "search", "s", "", "case-insensitive text search")
	flags.StringVar(&listNode, "node", "", "only resources on this node")
	flags.StringVar(&listPool, "pool", "", "only resources in this pool")
	flags.StringVar(&listSort, "sort", "", "column to sort by")
	flags.BoolVar(&listDesc, "desc", false, "sort descending")
	flags.StringVarP(&listColumns, "columns", "c", "default", "comma-separated columns, or \"default\"")
	flags.StringVarP(&listOutput, "output", "o", "table", "output format: table or json")
	flags.StringVar(&listViewFile, "view", "", "YAML view preset; flags narrow it further")
}

func runResources(ctx context.Context, out io.Writer) error {
	logging.Init(logging.Config{Format: "auto", Level: "warn", Component: "pveview"})

	preset, err := listPreset()
	if err != nil {
		return err
	}
	cols, err := resources.ParseColumns(listColumns)
	if err != nil {
		return err
	}
	if len(cols) == 0 {
		cols = resources.DefaultColumns()
	}
	if listOutput != "table" && listOutput != "json" {
		return fmt.Errorf("unknown output format %q", listOutput)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := pve.NewClient(cfg.ClientConfig())
	if err != nil {
		return fmt.Errorf("create cluster client: %w", err)
	}
	if err := client.Login(ctx); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	defer client.Logout()

	list, err := client.GetClusterResources(ctx, "")
	if errors.Is(err, apierrors.ErrNotFound) {
		return fmt.Errorf("list cluster resources: %w (is %s a Proxmox VE API endpoint?)", err, client.Endpoint())
	}
	if err != nil {
		return fmt.Errorf("list cluster resources: %w", err)
	}

	records, err := selectResources(resources.FromClusterResources(list), preset)
	if err != nil {
		return err
	}

	if listOutput == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	}
	renderTable(out, records, cols)
	return nil
}

// listPreset merges the optional preset file with the command-line flags.
// Flags win where both set a value.
func listPreset() (*config.ViewPreset, error) {
	preset := &config.ViewPreset{}
	if listViewFile != "" {
		p, err := config.LoadViewPreset(listViewFile)
		if err != nil {
			return nil, err
		}
		preset = p
	}
	for _, t := range listTypes {
		if t = strings.TrimSpace(t); t != "" {
			preset.Filter.Types = append(preset.Filter.Types, viewsync.ResourceType(t))
		}
	}
	if listSearch != "" {
		preset.Filter.Text = listSearch
	}
	if listNode != "" {
		preset.Filter.Node = listNode
	}
	if listPool != "" {
		preset.Filter.Pool = listPool
	}
	if listSort != "" {
		preset.Sort = config.ViewSort{Column: listSort, Descending: listDesc}
	}
	if err := preset.Validate(); err != nil {
		return nil, err
	}
	return preset, nil
}

// selectResources runs records through a fresh synchronizer so the output
// matches what the live view would show for the same preset.
func selectResources(records []viewsync.Record, preset *config.ViewPreset) ([]viewsync.Record, error) {
	view := viewsync.New()
	view.SetSortOrder(preset.BuildComparator())
	cs, err := view.Refresh(records, preset.BuildFilter())
	if err != nil {
		return nil, err
	}
	out := make([]viewsync.Record, len(cs.View))
	for i, e := range cs.View {
		out[i] = e.Record()
	}
	return out, nil
}

func renderTable(out io.Writer, records []viewsync.Record, cols []resources.Column) {
	tw := table.NewWriter()
	tw.SetOutputMirror(out)
	tw.SetStyle(table.StyleRounded)
	tw.Style().Options.SeparateRows = false
	tw.Style().Options.DrawBorder = true

	header := make(table.Row, len(cols))
	configs := make([]table.ColumnConfig, 0, len(cols))
	for i, c := range cols {
		header[i] = c.Header()
		if isNumericColumn(c) {
			configs = append(configs, table.ColumnConfig{Number: i + 1, Align: text.AlignRight})
		}
	}
	tw.AppendHeader(header)
	tw.SetColumnConfigs(configs)

	for _, rec := range records {
		row := make(table.Row, len(cols))
		for i, c := range cols {
			row[i] = c.Render(rec)
		}
		tw.AppendRow(row)
	}
	tw.AppendFooter(table.Row{fmt.Sprintf("%d resources", len(records))})
	tw.Render()
}

func isNumericColumn(c resources.Column) bool {
	switch c {
	case resources.ColType, resources.ColID, resources.ColRunning, resources.ColText, resources.ColName,
		resources.ColNode, resources.ColStorage, resources.ColPool, resources.ColTemplate:
		return false
	}
	return true
}
