package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"udata-harvest/internal/config"
	"udata-harvest/internal/domain/entity"
	"udata-harvest/internal/usecase/source"
)

var (
	sourcesAll     bool
	importDryRun   bool
	validateRefuse bool
	validateBy     string
	validateNote   string
	deleteForce    bool
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Manage harvest sources",
}

var sourcesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List harvest sources",
	Args:  cobra.NoArgs,
	RunE:  runSourcesList,
}

var sourcesImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Create sources declared in a YAML file",
	Long: `Create every source declared in a YAML file.

Sources whose slug already exists are reported and left untouched.
New sources start in the pending validation state.

Examples:
  harvestctl sources import sources.yaml
  harvestctl sources import sources.yaml --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runSourcesImport,
}

var sourcesValidateCmd = &cobra.Command{
	Use:   "validate <source>",
	Short: "Accept (or refuse) a pending source",
	Long: `Record the moderation decision for a source.

Examples:
  harvestctl sources validate open-data-paris --by admin
  harvestctl sources validate spam-portal --refuse --comment "not a data portal"`,
	Args: cobra.ExactArgs(1),
	RunE: runSourcesValidate,
}

var sourcesScheduleCmd = &cobra.Command{
	Use:   "schedule <source> <cron>",
	Short: "Set the periodic schedule of a source",
	Long: `Set the periodic schedule of a source as a five-field cron expression.

Examples:
  harvestctl sources schedule open-data-paris "0 3 * * *"`,
	Args: cobra.ExactArgs(2),
	RunE: runSourcesSchedule,
}

var sourcesUnscheduleCmd = &cobra.Command{
	Use:   "unschedule <source>",
	Short: "Remove the periodic schedule of a source",
	Args:  cobra.ExactArgs(1),
	RunE:  runSourcesUnschedule,
}

var sourcesDeleteCmd = &cobra.Command{
	Use:   "delete <source>",
	Short: "Soft-delete a source",
	Long: `Soft-delete a source. Its jobs are kept until retention purges them.
Requires confirmation unless --force is used.`,
	Args: cobra.ExactArgs(1),
	RunE: runSourcesDelete,
}

func init() {
	sourcesListCmd.Flags().BoolVarP(&sourcesAll, "all", "a", false, "include deleted sources")
	sourcesImportCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "only check the file")
	sourcesValidateCmd.Flags().BoolVar(&validateRefuse, "refuse", false, "refuse instead of accept")
	sourcesValidateCmd.Flags().StringVar(&validateBy, "by", os.Getenv("USER"), "moderator name")
	sourcesValidateCmd.Flags().StringVar(&validateNote, "comment", "", "moderation comment")
	sourcesDeleteCmd.Flags().BoolVarP(&deleteForce, "force", "f", false, "skip confirmation")

	sourcesCmd.AddCommand(sourcesListCmd)
	sourcesCmd.AddCommand(sourcesImportCmd)
	sourcesCmd.AddCommand(sourcesValidateCmd)
	sourcesCmd.AddCommand(sourcesScheduleCmd)
	sourcesCmd.AddCommand(sourcesUnscheduleCmd)
	sourcesCmd.AddCommand(sourcesDeleteCmd)
}

// sourceLookup is the part of source.Service used to resolve references.
type sourceLookup interface {
	GetBySlug(ctx context.Context, slug string) (*entity.HarvestSource, error)
	Get(ctx context.Context, id string) (*entity.HarvestSource, error)
}

// resolveSource accepts a slug or an id.
func resolveSource(ctx context.Context, sources sourceLookup, ref string) (*entity.HarvestSource, error) {
	src, err := sources.GetBySlug(ctx, ref)
	if err == nil {
		return src, nil
	}
	if !errors.Is(err, source.ErrSourceNotFound) {
		return nil, err
	}
	if uuid.Validate(ref) != nil {
		return nil, fmt.Errorf("source not found: %s", ref)
	}
	src, err = sources.Get(ctx, ref)
	if err != nil {
		if errors.Is(err, source.ErrSourceNotFound) {
			return nil, fmt.Errorf("source not found: %s", ref)
		}
		return nil, err
	}
	return src, nil
}

// createInput maps a declared source to the creation input.
func createInput(def config.SourceDefinition) source.CreateInput {
	return source.CreateInput{
		Name:           def.Name,
		Slug:           def.Slug,
		Description:    def.Description,
		URL:            def.URL,
		Backend:        entity.BackendKind(strings.ToLower(strings.TrimSpace(def.Backend))),
		OrganizationID: def.OrganizationID(),
		OwnerID:        def.OwnerID(),
		Schedule:       def.Schedule,
		Active:         def.Active,
		Filters:        def.Filters,
		Features:       def.Features,
		MaxItems:       def.MaxItems,
	}
}

func runSourcesList(cmd *cobra.Command, args []string) error {
	sources, err := application.Sources.List(cmd.Context(), sourcesAll)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	if len(sources) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sources.")
		return nil
	}
	return printSources(cmd.OutOrStdout(), sources)
}

// sourceCreator is the part of source.Service used by import.
type sourceCreator interface {
	Create(ctx context.Context, in source.CreateInput) (*entity.HarvestSource, error)
}

type importResult struct {
	Created int
	Skipped int
	Failed  int
}

// importSources creates each declared source. Existing slugs are skipped,
// other failures are reported and do not stop the import.
func importSources(ctx context.Context, w io.Writer, sources sourceCreator, file *config.SourceFile) importResult {
	var res importResult
	for _, def := range file.Sources {
		src, err := sources.Create(ctx, createInput(def))
		switch {
		case errors.Is(err, entity.ErrConflict):
			res.Skipped++
			fmt.Fprintf(w, "  exists   %s\n", def.Name)
		case err != nil:
			res.Failed++
			fmt.Fprintf(w, "  failed   %s: %v\n", def.Name, err)
		default:
			res.Created++
			fmt.Fprintf(w, "  created  %s (%s)\n", src.Slug, src.ID)
		}
	}
	return res
}

func runSourcesImport(cmd *cobra.Command, args []string) error {
	file, err := config.LoadSourceFile(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if importDryRun {
		for _, def := range file.Sources {
			in := createInput(def)
			if err := application.Registry.ValidateSource(&entity.HarvestSource{
				Name: in.Name, URL: in.URL, Backend: in.Backend, Filters: in.Filters, Features: in.Features,
			}); err != nil {
				fmt.Fprintf(out, "  invalid  %s: %v\n", def.Name, err)
				continue
			}
			fmt.Fprintf(out, "  ok       %s\n", def.Name)
		}
		return nil
	}

	res := importSources(cmd.Context(), out, application.Sources, file)
	fmt.Fprintf(out, "\n%d created, %d already present, %d failed\n", res.Created, res.Skipped, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("%d source(s) could not be imported", res.Failed)
	}
	return nil
}

func runSourcesValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	src, err := resolveSource(ctx, application.Sources, args[0])
	if err != nil {
		return err
	}
	state := entity.ValidationAccepted
	if validateRefuse {
		state = entity.ValidationRefused
	}
	src, err = application.Sources.Validate(ctx, src.ID, state, validateBy, validateNote)
	if err != nil {
		return fmt.Errorf("validate source: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Source %s is now %s.\n", src.Slug, src.Validation.State)
	return nil
}

func runSourcesSchedule(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	src, err := resolveSource(ctx, application.Sources, args[0])
	if err != nil {
		return err
	}
	src, err = application.Sources.Schedule(ctx, src.ID, args[1])
	if err != nil {
		return fmt.Errorf("schedule source: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Source %s scheduled at %q.\n", src.Slug, src.Schedule)
	if !src.IsSchedulable() {
		fmt.Fprintln(cmd.OutOrStdout(), "Note: the worker only runs active, accepted sources.")
	}
	return nil
}

func runSourcesUnschedule(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	src, err := resolveSource(ctx, application.Sources, args[0])
	if err != nil {
		return err
	}
	if _, err := application.Sources.Unschedule(ctx, src.ID); err != nil {
		return fmt.Errorf("unschedule source: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Source %s unscheduled.\n", src.Slug)
	return nil
}

func runSourcesDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	src, err := resolveSource(ctx, application.Sources, args[0])
	if err != nil {
		return err
	}

	if !deleteForce {
		ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(),
			fmt.Sprintf("About to delete: %s (%s)", src.Name, src.ID))
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}
	}

	if err := application.Sources.SoftDelete(ctx, src.ID); err != nil {
		return fmt.Errorf("delete source: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted: %s\n", src.Slug)
	return nil
}

// confirm asks a yes/no question, defaulting to no.
func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprintln(out, prompt)
	fmt.Fprint(out, "\nContinue? [y/N]: ")

	response, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, fmt.Errorf("read input: %w", err)
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes", nil
}
