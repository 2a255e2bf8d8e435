// Command hexmapctl previews terrain generation and seeds the GM map.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/freeeve/westmarches-hexmap/internal/config"
	"github.com/freeeve/westmarches-hexmap/internal/logger"
	"github.com/freeeve/westmarches-hexmap/internal/repository/postgres"
	"github.com/freeeve/westmarches-hexmap/internal/service"
	"github.com/freeeve/westmarches-hexmap/pkg/hexmap"
)

func main() {
	var cmdRoot = &cobra.Command{
		Use:   "hexmapctl",
		Short: "Westmarches hex map utility",
		Long:  `Preview terrain generation, inspect weights and seed the GM map`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			logger.Init(logger.Options{Level: level})
			return nil
		},
	}
	cmdRoot.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	cmdRoot.AddCommand(cmdGenerate())
	cmdRoot.AddCommand(cmdSeed())
	cmdRoot.AddCommand(cmdDistance())
	cmdRoot.AddCommand(cmdWeights())

	if err := cmdRoot.Execute(); err != nil {
		os.Exit(1)
	}
}

// generated is one previewed hex.
type generated struct {
	Q       int            `json:"q"`
	R       int            `json:"r"`
	Terrain hexmap.Terrain `json:"terrain"`
}

// preview generates terrain for every hex within radius of center, nearest
// ring first, without touching storage.
func preview(center hexmap.Coord, radius int, seed int64) ([]generated, error) {
	if radius < 0 {
		return nil, fmt.Errorf("radius must be non-negative, got %d", radius)
	}
	gen := hexmap.NewGenerator(seed)
	known := make(map[hexmap.Coord]hexmap.Terrain)
	var out []generated
	for k := 0; k <= radius; k++ {
		ring, err := hexmap.Ring(center, k)
		if err != nil {
			return nil, err
		}
		for _, c := range ring {
			t := gen.Generate(c, known)
			known[c] = t
			out = append(out, generated{Q: c.Q, R: c.R, Terrain: t})
		}
	}
	return out, nil
}

func cmdGenerate() *cobra.Command {
	var q, r, radius int
	var seed int64
	var asJSON bool
	var cmd = &cobra.Command{
		Use:          "generate",
		Short:        "preview generated terrain around a hex",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			hexes, err := preview(hexmap.Coord{Q: q, R: r}, radius, seed)
			if err != nil {
				return err
			}
			return writeHexes(cmd.OutOrStdout(), hexes, asJSON)
		},
	}
	cmd.Flags().IntVar(&q, "q", 0, "center q")
	cmd.Flags().IntVar(&r, "r", 0, "center r")
	cmd.Flags().IntVar(&radius, "radius", 2, "hex distance to generate out to")
	cmd.Flags().Int64Var(&seed, "seed", 1, "generator seed")
	cmd.Flags().BoolVar(&asJSON, "json", false, "write JSON instead of a table")
	return cmd
}

func writeHexes(w io.Writer, hexes []generated, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(hexes)
	}
	counts := make(map[hexmap.Terrain]int)
	for _, h := range hexes {
		fmt.Fprintf(w, "%4d %4d  %s\n", h.Q, h.R, h.Terrain)
		counts[h.Terrain]++
	}
	fmt.Fprintln(w)
	for _, t := range hexmap.Terrains {
		if counts[t] > 0 {
			fmt.Fprintf(w, "%-10s %d\n", t, counts[t])
		}
	}
	return nil
}

func cmdSeed() *cobra.Command {
	var q, r, radius int
	var seed int64
	var cmd = &cobra.Command{
		Use:          "seed",
		Short:        "generate missing GM hexes around a hex in the database",
		Long:         `Fill every empty position within radius of the center with generated terrain. Existing hexes are kept. Connects using DATABASE_URL.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			db, err := postgres.Connect(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()

			svc := service.NewHexMapService(postgres.NewHexRepo(db), cfg.GeneratorSeed)
			created, err := svc.GenerateBorder(ctx, hexmap.Coord{Q: q, R: r}, radius, seed)
			if err != nil {
				return err
			}
			log.Info().Int("created", len(created)).Msg("Seeded GM map")
			fmt.Fprintf(cmd.OutOrStdout(), "created %d hexes\n", len(created))
			return nil
		},
	}
	cmd.Flags().IntVar(&q, "q", 0, "center q")
	cmd.Flags().IntVar(&r, "r", 0, "center r")
	cmd.Flags().IntVar(&radius, "radius", 3, "hex distance to generate out to")
	cmd.Flags().Int64Var(&seed, "seed", 0, "generator seed (0 uses GENERATOR_SEED or the clock)")
	return cmd
}

func cmdDistance() *cobra.Command {
	return &cobra.Command{
		Use:          "distance <q,r> <q,r>",
		Short:        "print the hex distance between two coordinates",
		SilenceUsage: true,
		Args:         cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := hexmap.ParseCoord(args[0])
			if err != nil {
				return err
			}
			b, err := hexmap.ParseCoord(args[1])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hexmap.Distance(a, b))
			return nil
		},
	}
}

func cmdWeights() *cobra.Command {
	return &cobra.Command{
		Use:          "weights [neighbor-terrain...]",
		Short:        "print the generation weights for a set of neighbor terrains",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var neighbors []hexmap.Terrain
			for _, arg := range args {
				t, err := hexmap.ParseTerrain(arg)
				if err != nil {
					return err
				}
				neighbors = append(neighbors, t)
			}
			w := hexmap.WeightsFor(neighbors)
			total := w.Total()
			for i, t := range hexmap.Terrains {
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %3d  %5.1f%%\n", t, w[i], 100*float64(w[i])/float64(total))
			}
			return nil
		},
	}
}
