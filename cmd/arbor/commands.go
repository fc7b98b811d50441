package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/arbordb/arbor"
	"github.com/arbordb/arbor/distance"
	"github.com/arbordb/arbor/metadata"
	"github.com/arbordb/arbor/store/sqlite"
)

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	idColor     = color.New(color.FgGreen)
	dimColor    = color.New(color.Faint)
)

func newLibraryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "library",
		Short: "Manage libraries",
	}

	var (
		name      string
		algorithm string
		metric    string
	)
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a library",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			lib, err := s.CreateLibrary(cmd.Context(), sqlite.Library{
				Name:      name,
				Algorithm: algorithm,
				Metric:    metric,
			})
			if err != nil {
				return err
			}
			idColor.Println(lib.ID)
			return nil
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "library name")
	createCmd.Flags().StringVar(&algorithm, "algorithm", "", "index algorithm: linear, kdtree, balltree (default from config)")
	createCmd.Flags().StringVar(&metric, "metric", "", "distance metric: euclidean, manhattan, cosine (default from config)")
	createCmd.PreRun = func(cmd *cobra.Command, args []string) {
		if algorithm == "" {
			algorithm = cfg.DefaultAlgorithm
		}
		if metric == "" {
			metric = cfg.DefaultMetric
		}
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List libraries",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			libs, err := s.Libraries(cmd.Context())
			if err != nil {
				return err
			}
			headerColor.Println("ID\tNAME\tALGORITHM\tMETRIC\tCHUNKS")
			for _, lib := range libs {
				n, err := s.CountChunks(cmd.Context(), lib.ID)
				if err != nil {
					return err
				}
				fmt.Printf("%s\t%s\t%s\t%s\t%d\n", lib.ID, lib.Name, lib.Algorithm, lib.Metric, n)
			}
			return nil
		},
	}

	dropCmd := &cobra.Command{
		Use:   "drop <library-id>",
		Short: "Delete a library and everything in it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			return s.DeleteLibrary(cmd.Context(), args[0])
		},
	}

	cmd.AddCommand(createCmd, listCmd, dropCmd)
	return cmd
}

func newAddCmd() *cobra.Command {
	var (
		libraryID  string
		documentID string
		text       string
		vector     string
		meta       []string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a chunk to a library",
		RunE: func(cmd *cobra.Command, args []string) error {
			vec, err := parseVector(vector)
			if err != nil {
				return err
			}
			doc, err := parseMeta(meta)
			if err != nil {
				return err
			}

			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			ctx := cmd.Context()
			if documentID == "" {
				created, err := s.CreateDocument(ctx, sqlite.Document{LibraryID: libraryID})
				if err != nil {
					return err
				}
				documentID = created.ID
			}
			ids, err := s.InsertChunks(ctx, []sqlite.Chunk{{
				DocumentID: documentID,
				LibraryID:  libraryID,
				Text:       text,
				Embedding:  vec,
				Metadata:   doc,
			}})
			if err != nil {
				return err
			}
			idColor.Println(ids[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&libraryID, "library", "", "library id (required)")
	cmd.Flags().StringVar(&documentID, "document", "", "document id (a new document is created when omitted)")
	cmd.Flags().StringVar(&text, "text", "", "chunk text")
	cmd.Flags().StringVar(&vector, "vector", "", "comma-separated embedding, e.g. 0.1,0.9,0.3 (required)")
	cmd.Flags().StringArrayVar(&meta, "meta", nil, "metadata attribute key=value (repeatable)")
	_ = cmd.MarkFlagRequired("library")
	_ = cmd.MarkFlagRequired("vector")
	return cmd
}

func newSearchCmd() *cobra.Command {
	var (
		libraryID string
		vector    string
		k         int
		metric    string
		filters   []string
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search a library for the nearest chunks",
		RunE: func(cmd *cobra.Command, args []string) error {
			q, err := parseVector(vector)
			if err != nil {
				return err
			}
			fs, err := parseFilters(filters)
			if err != nil {
				return err
			}

			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			m, err := newManager()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := s.LoadInto(ctx, m); err != nil {
				return err
			}

			opts := make([]arbor.SearchOption, 0, 2)
			if metric != "" {
				parsed, err := distance.ParseMetric(metric)
				if err != nil {
					return err
				}
				opts = append(opts, arbor.WithMetric(parsed))
			}
			if len(fs) > 0 {
				opts = append(opts, arbor.WithFilter(fs...))
			}

			results, err := m.Search(ctx, libraryID, q, k, opts...)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				dimColor.Println("no results")
				return nil
			}
			for i, r := range results {
				chunk, err := s.Chunk(ctx, r.ID)
				if err != nil {
					return err
				}
				fmt.Printf("%2d. ", i+1)
				idColor.Print(r.ID)
				dimColor.Printf("  distance=%.6f\n", r.Distance)
				if chunk.Text != "" {
					fmt.Printf("    %s\n", chunk.Text)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&libraryID, "library", "", "library id (required)")
	cmd.Flags().StringVar(&vector, "vector", "", "comma-separated query embedding (required)")
	cmd.Flags().IntVarP(&k, "k", "k", 5, "number of neighbors")
	cmd.Flags().StringVar(&metric, "metric", "", "override the library's distance metric for this query")
	cmd.Flags().StringArrayVar(&filters, "filter", nil, "metadata filter, e.g. lang=en, year>=2020, title~intro (repeatable)")
	_ = cmd.MarkFlagRequired("library")
	_ = cmd.MarkFlagRequired("vector")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show per-library index statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			m, err := newManager()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := s.LoadInto(ctx, m); err != nil {
				return err
			}

			headerColor.Println("LIBRARY\tRECORDS\tDIM\tALGORITHM\tMETRIC")
			for _, id := range m.Libraries() {
				st, err := m.Stats(id)
				if err != nil {
					return err
				}
				fmt.Printf("%s\t%d\t%d\t%s\t%s\n",
					st.Library, st.Records, st.Dimension, st.Algorithm, st.Metric)
			}
			return nil
		},
	}
}

func newExportCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <library-id>",
		Short: "Export a library snapshot (zstd-compressed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := s.ExportLibrary(cmd.Context(), args[0], f); err != nil {
				_ = f.Close()
				return err
			}
			return f.Close()
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (required)")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <snapshot-file>",
		Short: "Import a library snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			lib, count, err := s.ImportLibrary(cmd.Context(), f)
			if err != nil {
				return err
			}
			fmt.Printf("imported library %s (%d chunks)\n", lib.ID, count)
			return nil
		},
	}
}

// parseVector parses a comma-separated float list.
func parseVector(s string) ([]float32, error) {
	parts := strings.Split(s, ",")
	vec := make([]float32, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid vector component %q: %w", p, err)
		}
		vec = append(vec, float32(f))
	}
	return vec, nil
}

// parseMeta parses key=value pairs into a typed document; values parse as
// int, then float, then bool, falling back to string.
func parseMeta(pairs []string) (metadata.Metadata, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	doc := make(metadata.Metadata, len(pairs))
	for _, p := range pairs {
		key, raw, ok := strings.Cut(p, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid metadata pair %q, want key=value", p)
		}
		doc[key] = guessValue(raw)
	}
	return doc, nil
}

func guessValue(raw string) metadata.Value {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return metadata.Int(i)
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return metadata.Float(f)
	}
	if b, err := strconv.ParseBool(raw); err == nil {
		return metadata.Bool(b)
	}
	return metadata.String(raw)
}

// filterOps maps CLI operator spellings to filter constructors, longest
// spelling first so ">=" wins over ">".
var filterOps = []struct {
	token string
	build func(key string, v metadata.Value) metadata.Filter
}{
	{"!=", metadata.Ne},
	{">=", metadata.Gte},
	{"<=", metadata.Lte},
	{">", metadata.Gt},
	{"<", metadata.Lt},
	{"=", metadata.Eq},
}

// parseFilters parses filter expressions like lang=en, year>=2020 or
// title~intro (substring).
func parseFilters(exprs []string) ([]metadata.Filter, error) {
	out := make([]metadata.Filter, 0, len(exprs))
	for _, expr := range exprs {
		if key, substr, ok := strings.Cut(expr, "~"); ok && !strings.ContainsAny(expr, "=<>!") {
			out = append(out, metadata.Contains(key, substr))
			continue
		}
		matched := false
		for _, op := range filterOps {
			key, raw, ok := strings.Cut(expr, op.token)
			if !ok || key == "" {
				continue
			}
			out = append(out, op.build(key, guessValue(raw)))
			matched = true
			break
		}
		if !matched {
			return nil, fmt.Errorf("invalid filter %q", expr)
		}
	}
	return out, nil
}
