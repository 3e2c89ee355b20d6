package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/canopytrace/canopytrace/internal/ledger"
	"github.com/canopytrace/canopytrace/pkg/client"
	"github.com/canopytrace/canopytrace/pkg/geo"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	nodeURL string
	keyDir  string
	cfgFile string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "canopy",
	Short: "Deforestation-compliance ledger CLI",
	Long: `canopy is the command-line interface for a canopytrace node.

It registers plots and harvest batches on the tamper-evident ledger,
requests satellite verification for plot boundaries, and produces
due-diligence statements for batch shipments.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.canopy")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if nodeURL == "" {
			nodeURL = viper.GetString("node_url")
		}
		if nodeURL == "" {
			nodeURL = "http://localhost:8080"
		}
		if keyDir == "" {
			keyDir = viper.GetString("key_dir")
		}
		if keyDir == "" {
			home, _ := os.UserHomeDir()
			keyDir = filepath.Join(home, ".canopy", "keys")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.canopy/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&nodeURL, "node", "", "node base URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&keyDir, "key-dir", "", "signing key directory (default ~/.canopy/keys)")

	rootCmd.AddCommand(identityCmd)
	rootCmd.AddCommand(plotCmd)
	rootCmd.AddCommand(batchCmd)
	rootCmd.AddCommand(verificationCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(journalCmd)
	rootCmd.AddCommand(versionCmd)
}

// newClient builds an SDK client with the local signing key loaded.
func newClient() (*client.Client, error) {
	return client.New(nodeURL, client.WithKeyDir(keyDir))
}

// ── identity ─────────────────────────────────────────────────────────────────

var identityCmd = &cobra.Command{
	Use:   "identity",
	Short: "Print the local signing identity, creating the key on first use",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		fmt.Printf("Identity: %s\n", c.Identity())
		fmt.Printf("Key dir:  %s\n", keyDir)
		return nil
	},
}

// ── plot ─────────────────────────────────────────────────────────────────────

var plotCmd = &cobra.Command{
	Use:   "plot",
	Short: "Manage plot accounts",
}

var (
	plotID        string
	plotOwnerName string
	plotLocation  string
	plotBoundary  string
	plotArea      float64
	plotCommodity string
	plotAuthority string
)

var plotRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new plot on the ledger",
	Long: `Register creates a plot account owned by the local signing identity.

The boundary polygon is hashed locally; only the commitment goes on ledger.
Pass --boundary a JSON file or inline JSON of [lat, lng] vertices:

  canopy plot register --id PLOT-GH-042 --commodity cocoa --area 2.5 \
    --authority <authority-identity> \
    --boundary '[[6.521,-1.932],[6.523,-1.931],[6.522,-1.929]]'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		polygon, err := readPolygon(plotBoundary)
		if err != nil {
			return err
		}
		commodity, err := ledger.ParseCommodity(plotCommodity)
		if err != nil {
			return err
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		plot, err := c.RegisterPlot(context.Background(), ledger.RegisterPlot{
			PlotID:             plotID,
			OwnerName:          plotOwnerName,
			LocationLabel:      plotLocation,
			CoordinateHash:     polygon.ContentHash(),
			AreaHectares:       plotArea,
			Commodity:          commodity,
			ValidatorAuthority: ledger.Identity(plotAuthority),
		})
		if err != nil {
			return fmt.Errorf("register plot: %w", err)
		}

		fmt.Printf("✓ Plot registered\n\n")
		fmt.Printf("  Address:   %s\n", plot.Address)
		fmt.Printf("  Plot ID:   %s\n", plot.PlotID)
		fmt.Printf("  Commodity: %s\n", plot.Commodity)
		fmt.Printf("  Owner:     %s\n\n", plot.Owner)
		fmt.Printf("Next: canopy plot verify-request %s --boundary <file> to request satellite validation\n", plot.Address)
		return nil
	},
}

func init() {
	plotRegisterCmd.Flags().StringVar(&plotID, "id", "", "External plot identifier")
	plotRegisterCmd.Flags().StringVar(&plotOwnerName, "owner-name", "", "Farmer or cooperative display name")
	plotRegisterCmd.Flags().StringVar(&plotLocation, "location", "", "Human-readable location label")
	plotRegisterCmd.Flags().StringVar(&plotBoundary, "boundary", "", "Boundary polygon: JSON file path or inline JSON")
	plotRegisterCmd.Flags().Float64Var(&plotArea, "area", 0, "Plot area in hectares")
	plotRegisterCmd.Flags().StringVar(&plotCommodity, "commodity", "", "Commodity type (cocoa, coffee, palm_oil, soy, cattle, rubber, timber)")
	plotRegisterCmd.Flags().StringVar(&plotAuthority, "authority", "", "Validator authority identity")

	_ = plotRegisterCmd.MarkFlagRequired("id")
	_ = plotRegisterCmd.MarkFlagRequired("boundary")
	_ = plotRegisterCmd.MarkFlagRequired("area")
	_ = plotRegisterCmd.MarkFlagRequired("commodity")
	_ = plotRegisterCmd.MarkFlagRequired("authority")
}

var plotGetCmd = &cobra.Command{
	Use:   "get <address>",
	Short: "Fetch a plot account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(nodeURL)
		if err != nil {
			return err
		}
		plot, err := c.GetPlot(context.Background(), ledger.Address(args[0]))
		if err != nil {
			return err
		}
		return printJSON(plot)
	},
}

var plotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered plots, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(nodeURL)
		if err != nil {
			return err
		}
		plots, err := c.ListPlots(context.Background(), 50, 0)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ADDRESS\tPLOT ID\tCOMMODITY\tVALIDATED\tRISK\tACTIVE")
		for _, p := range plots {
			fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\t%v\n",
				p.Address, p.PlotID, p.Commodity, p.IsValidated, p.DeforestationRisk, p.IsActive)
		}
		return w.Flush()
	},
}

var verifyBoundary string

var plotVerifyRequestCmd = &cobra.Command{
	Use:   "verify-request <address>",
	Short: "Queue a satellite verification attempt for a plot boundary",
	Long: `verify-request submits the plot's boundary polygon for asynchronous
satellite verification. The node fetches recent and historical imagery,
runs deforestation inference, and validates the plot only on a clean
verdict. Poll 'canopy plot get' to observe the outcome.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		polygon, err := readPolygon(verifyBoundary)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		attempt, err := c.RequestVerification(context.Background(), ledger.Address(args[0]), polygon)
		if err != nil {
			return fmt.Errorf("request verification: %w", err)
		}

		fmt.Printf("✓ Verification queued\n\n")
		fmt.Printf("  Attempt ID: %s\n", attempt.AttemptID)
		fmt.Printf("  Plot ID:    %s\n\n", attempt.PlotID)
		fmt.Printf("Poll the plot for the result:\n  canopy plot get %s\n", args[0])
		return nil
	},
}

func init() {
	plotVerifyRequestCmd.Flags().StringVar(&verifyBoundary, "boundary", "", "Boundary polygon: JSON file path or inline JSON")
	_ = plotVerifyRequestCmd.MarkFlagRequired("boundary")
}

var plotValidateCmd = &cobra.Command{
	Use:   "validate <address>",
	Short: "Validate a plot (requires the validator authority key)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		plot, err := c.ValidatePlot(context.Background(), ledger.Address(args[0]))
		if err != nil {
			return fmt.Errorf("validate plot: %w", err)
		}
		fmt.Printf("✓ Plot validated: %s\n", plot.Address)
		return nil
	},
}

var plotDeactivateCmd = &cobra.Command{
	Use:   "deactivate <address>",
	Short: "Retire a plot (requires the owner key)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		plot, err := c.DeactivatePlot(context.Background(), ledger.Address(args[0]))
		if err != nil {
			return fmt.Errorf("deactivate plot: %w", err)
		}
		fmt.Printf("✓ Plot deactivated: %s\n", plot.Address)
		return nil
	},
}

func init() {
	plotCmd.AddCommand(plotRegisterCmd)
	plotCmd.AddCommand(plotGetCmd)
	plotCmd.AddCommand(plotListCmd)
	plotCmd.AddCommand(plotVerifyRequestCmd)
	plotCmd.AddCommand(plotValidateCmd)
	plotCmd.AddCommand(plotDeactivateCmd)
}

// ── batch ────────────────────────────────────────────────────────────────────

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Manage harvest batches",
}

var (
	batchID     string
	batchPlotID string
	batchWeight uint64
)

var batchRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a harvest batch against a compliant plot",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		batch, err := c.RegisterBatch(context.Background(), ledger.RegisterBatch{
			BatchID:  batchID,
			PlotID:   batchPlotID,
			WeightKg: batchWeight,
		})
		if err != nil {
			return fmt.Errorf("register batch: %w", err)
		}

		fmt.Printf("✓ Batch registered\n\n")
		fmt.Printf("  Address:  %s\n", batch.Address)
		fmt.Printf("  Batch ID: %s\n", batch.BatchID)
		fmt.Printf("  Status:   %s\n", batch.Status)
		return nil
	},
}

func init() {
	batchRegisterCmd.Flags().StringVar(&batchID, "id", "", "External batch identifier")
	batchRegisterCmd.Flags().StringVar(&batchPlotID, "plot-id", "", "Source plot's external identifier")
	batchRegisterCmd.Flags().Uint64Var(&batchWeight, "weight", 0, "Batch weight in kilograms")

	_ = batchRegisterCmd.MarkFlagRequired("id")
	_ = batchRegisterCmd.MarkFlagRequired("plot-id")
	_ = batchRegisterCmd.MarkFlagRequired("weight")
}

var batchDestination string

var batchStatusCmd = &cobra.Command{
	Use:   "status <address> <new-status>",
	Short: "Advance a batch along the supply chain",
	Long: `status moves a batch forward: harvested, processing, in_transit, delivered.
Stages may be skipped but never revisited.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := ledger.ParseBatchStatus(args[1])
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		batch, err := c.UpdateBatchStatus(context.Background(), ledger.Address(args[0]), status, batchDestination)
		if err != nil {
			return fmt.Errorf("update batch status: %w", err)
		}
		fmt.Printf("✓ Batch %s → %s\n", batch.BatchID, batch.Status)
		return nil
	},
}

func init() {
	batchStatusCmd.Flags().StringVar(&batchDestination, "destination", "", "Shipment destination label")
}

var batchGetCmd = &cobra.Command{
	Use:   "get <address>",
	Short: "Fetch a batch account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(nodeURL)
		if err != nil {
			return err
		}
		batch, err := c.GetBatch(context.Background(), ledger.Address(args[0]))
		if err != nil {
			return err
		}
		return printJSON(batch)
	},
}

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered batches, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(nodeURL)
		if err != nil {
			return err
		}
		batches, err := c.ListBatches(context.Background(), 50, 0)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ADDRESS\tBATCH ID\tPLOT\tWEIGHT KG\tSTATUS")
		for _, b := range batches {
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
				b.Address, b.BatchID, b.PlotRef, b.WeightKg, b.Status)
		}
		return w.Flush()
	},
}

func init() {
	batchCmd.AddCommand(batchRegisterCmd)
	batchCmd.AddCommand(batchStatusCmd)
	batchCmd.AddCommand(batchGetCmd)
	batchCmd.AddCommand(batchListCmd)
}

// ── verification ─────────────────────────────────────────────────────────────

var verificationCmd = &cobra.Command{
	Use:   "verification",
	Short: "Record verification evidence",
}

var (
	verEvidence string
	verClean    bool
	verKind     string
)

var verificationRecordCmd = &cobra.Command{
	Use:   "record <plot-address>",
	Short: "Record a verification result for a plot (requires the authority key)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := ledger.ParseVerificationKind(verKind)
		if err != nil {
			return err
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		rec, err := c.RecordVerification(context.Background(), ledger.RecordVerification{
			PlotAddress:     ledger.Address(args[0]),
			EvidenceRef:     verEvidence,
			NoDeforestation: verClean,
			Kind:            kind,
		})
		if err != nil {
			return fmt.Errorf("record verification: %w", err)
		}

		fmt.Printf("✓ Verification recorded\n\n")
		fmt.Printf("  Address: %s\n", rec.Address)
		fmt.Printf("  Kind:    %s\n", rec.Kind)
		return nil
	},
}

func init() {
	verificationRecordCmd.Flags().StringVar(&verEvidence, "evidence", "", "Evidence reference (e.g. an IPFS CID)")
	verificationRecordCmd.Flags().BoolVar(&verClean, "no-deforestation", false, "Assert the plot shows no deforestation")
	verificationRecordCmd.Flags().StringVar(&verKind, "kind", "satellite", "Verification kind (satellite, audit, manual)")

	_ = verificationRecordCmd.MarkFlagRequired("evidence")

	verificationCmd.AddCommand(verificationRecordCmd)
}

// ── report ───────────────────────────────────────────────────────────────────

var reportPlotAddr string

var reportCmd = &cobra.Command{
	Use:   "report <batch-address>",
	Short: "Produce a due-diligence statement for a batch shipment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(nodeURL)
		if err != nil {
			return err
		}
		report, err := c.Report(context.Background(), ledger.Address(args[0]), ledger.Address(reportPlotAddr))
		if err != nil {
			return fmt.Errorf("generate report: %w", err)
		}
		return printJSON(report)
	},
}

func init() {
	reportCmd.Flags().StringVar(&reportPlotAddr, "plot", "", "Source plot address")
	_ = reportCmd.MarkFlagRequired("plot")
}

// ── journal ──────────────────────────────────────────────────────────────────

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Inspect the tamper-evident event journal",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(nodeURL)
		if err != nil {
			return err
		}
		overview, err := c.Journal(context.Background())
		if err != nil {
			return err
		}
		fmt.Printf("Entries: %d\n", overview.Entries)
		fmt.Printf("Root:    %s\n", overview.Root)
		return nil
	},
}

var journalVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Walk the node's full hash chain and report integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := client.New(nodeURL)
		if err != nil {
			return err
		}
		start := time.Now()
		ok, err := c.VerifyJournal(context.Background())
		if err != nil {
			return err
		}
		if ok {
			fmt.Printf("✓ Journal chain intact (%s)\n", time.Since(start).Round(time.Millisecond))
		}
		return nil
	},
}

func init() {
	journalCmd.AddCommand(journalVerifyCmd)
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the canopy CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("canopy %s\n", version)
	},
}

// readPolygon accepts either a file path or inline JSON and returns the
// validated boundary.
func readPolygon(arg string) (geo.Polygon, error) {
	if arg == "" {
		return nil, fmt.Errorf("boundary is empty")
	}
	raw := []byte(arg)
	if !strings.HasPrefix(strings.TrimSpace(arg), "[") {
		data, err := os.ReadFile(arg)
		if err != nil {
			return nil, fmt.Errorf("read boundary file %q: %w", arg, err)
		}
		raw = data
	}
	return geo.Parse(raw)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
