// Package main implements the simgym operator console.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/desertbit/grumble"
	"github.com/jedib0t/go-pretty/table"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"simgym/pkg/cartpole"
	"simgym/pkg/env"
	"simgym/pkg/record"
)

// CLI banner with version.
const banner = `
      _
  ___(_)_ __ ___   __ _ _   _ _ __ ___
 / __| | '_ ' _ \ / _' | | | | '_ ' _ \
 \__ \ | | | | | | (_| | |_| | | | | | |
 |___/_|_| |_| |_|\__, |\__, |_| |_| |_|
                  |___/ |___/

   Gym bridge for external simulators (v1.0)
   -----------------------------------------

`

// Fixed port used when the engine is started manually in debug mode.
const debugPort = 42313

// Config holds console defaults. Every field is optional; flags and
// environment variables take precedence.
type Config struct {
	Engine    string `json:"engine,omitempty"`     // engine command template
	DBPath    string `json:"db_path,omitempty"`    // SQLite path for episode transcripts
	StepLimit int    `json:"step_limit,omitempty"` // default step limit per episode
}

// Global state.
var (
	config *Config      // app config
	store  record.Store // episode transcripts
)

// LoadConfig reads and parses the config file. A missing file is not an
// error unless its path was given explicitly.
func LoadConfig(configPath string) (*Config, error) {
	explicit := configPath != ""
	if configPath == "" {
		configPath = "./config.json"
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %v", err)
	}

	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		if explicit {
			return nil, fmt.Errorf("configuration file not found at %s", absPath)
		}
		return &Config{}, nil
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %v", absPath, err)
	}

	config := new(Config)
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %v", absPath, err)
	}

	return config, nil
}

// RenderEpisodeTable formats episode summaries into a human-readable table.
func RenderEpisodeTable(episodes []record.Episode) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{
		"Episode ID",
		"Task",
		"Started",
		"Steps",
		"Total reward",
		"Terminated",
		"Truncated",
	})

	for _, ep := range episodes {
		t.AppendRow(table.Row{
			ep.ID,
			ep.Task,
			ep.StartedAt.Format("2006-01-02 15:04:05"),
			ep.Steps,
			fmt.Sprintf("%.2f", ep.TotalReward),
			ep.Terminated,
			ep.Truncated,
		})
	}

	return t.Render()
}

// RenderTransitionTable formats the transitions of one episode.
func RenderTransitionTable(transitions []record.Transition) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)

	t.AppendHeader(table.Row{
		"Step",
		"Action",
		"Observation",
		"Reward",
		"Sim time",
		"Terminated",
		"Truncated",
	})

	for _, tr := range transitions {
		t.AppendRow(table.Row{
			tr.Step,
			formatVector(tr.Action),
			formatVector(tr.Observation),
			fmt.Sprintf("%.2f", tr.Reward),
			fmt.Sprintf("%.2f", tr.SimTime),
			tr.Terminated,
			tr.Truncated,
		})
	}

	return t.Render()
}

func formatVector(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%.3f", v)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// balancePolicy pushes the cart toward the side the pole is falling to.
func balancePolicy(obs []float64) []float64 {
	if obs[cartpole.SlotTheta]+0.1*obs[cartpole.SlotOmega] > 0 {
		return []float64{1}
	}
	return []float64{-1}
}

// runEpisode drives one full episode and returns its step count, total
// reward and how it ended.
func runEpisode(e *env.Env) (int, float64, string, error) {
	obs, _, err := e.Reset()
	if err != nil {
		return 0, 0, "", err
	}

	steps := 0
	total := 0.0
	for {
		st, err := e.Step(balancePolicy(obs))
		if err != nil {
			return steps, total, "", err
		}
		if disposable, _ := st.Info["disposable_repeat"].(bool); !disposable {
			steps++
			total += st.Reward
		}
		obs = st.Observation

		switch {
		case st.Terminated:
			return steps, total, "terminated", nil
		case st.Truncated:
			return steps, total, "truncated", nil
		}
	}
}

// AddCommands registers all CLI commands with the application.
func AddCommands(app *grumble.App) {
	// Command to run episodes against the simulation engine
	app.AddCommand(&grumble.Command{
		Name: "run",
		Help: "run cart-pole episodes against the simulation engine",
		Flags: func(f *grumble.Flags) {
			f.Int("n", "episodes", 1, "number of episodes to run")
			f.Int("s", "steps", 0, "step limit per episode, 0 uses the configured default")
			f.Int("p", "port", 0, "port to bind, 0 picks a free one")
			f.String("e", "engine", "", "engine command, defaults to SIMGYM_ENGINE or simpeer")
			f.Bool("d", "debug", false, "do not start the engine, wait for a manual peer")
		},
		Run: func(c *grumble.Context) error {
			engineCmd := c.Flags.String("engine")
			if engineCmd == "" {
				engineCmd = os.Getenv("SIMGYM_ENGINE")
			}
			if engineCmd == "" {
				engineCmd = config.Engine
			}
			if engineCmd == "" {
				engineCmd = "simpeer"
			}

			stepLimit := c.Flags.Int("steps")
			if stepLimit == 0 {
				stepLimit = config.StepLimit
			}
			if stepLimit == 0 {
				stepLimit = 500
			}

			port := c.Flags.Int("port")
			debug := c.Flags.Bool("debug")
			if debug && port == 0 {
				// A manual peer needs a port known in advance.
				port = debugPort
			}

			e := env.New(cartpole.NewTask(), env.Config{
				Port:          port,
				Debug:         debug,
				StepLimit:     stepLimit,
				EngineCommand: strings.Fields(engineCmd),
				Recorder:      store,
			}, log.Logger)
			defer e.Close()

			for i := 0; i < c.Flags.Int("episodes"); i++ {
				steps, total, outcome, err := runEpisode(e)
				if err != nil {
					log.Error().Err(err).Msg("Episode failed")
					return nil
				}
				log.Info().
					Str("episode_id", e.EpisodeID().String()).
					Int("steps", steps).
					Float64("total_reward", total).
					Str("outcome", outcome).
					Msg("Episode finished")
			}
			return nil
		},
	})
	// Command to list recorded episodes
	app.AddCommand(&grumble.Command{
		Name:    "episodes",
		Aliases: []string{"ls"},
		Help:    "list recorded episodes",
		Run: func(c *grumble.Context) error {
			episodes, err := store.ListEpisodes(context.Background())
			if err != nil {
				log.Error().Err(err).Msg("Failed to list episodes")
				return nil
			}
			if len(episodes) == 0 {
				log.Info().Msg("No episodes recorded yet")
				return nil
			}
			c.App.Println(RenderEpisodeTable(episodes))
			return nil
		},
	})
	// Command to show the transitions of one episode
	app.AddCommand(&grumble.Command{
		Name: "show",
		Help: "show the transitions of a recorded episode",
		Args: func(a *grumble.Args) {
			a.String("episode-id", "ID of the episode to show")
		},
		Completer: CompleteEpisodes,
		Run: func(c *grumble.Context) error {
			id := c.Args.String("episode-id")

			ep, ok, err := store.GetEpisode(context.Background(), id)
			if err != nil {
				log.Error().Err(err).Msg("Failed to load episode")
				return nil
			}
			if !ok {
				log.Warn().Str("episode_id", id).Msg("No such episode")
				return nil
			}

			transitions, err := store.Transitions(context.Background(), id)
			if err != nil {
				log.Error().Err(err).Msg("Failed to load transitions")
				return nil
			}

			log.Info().
				Str("task", ep.Task).
				Int("steps", ep.Steps).
				Float64("total_reward", ep.TotalReward).
				Msg("Episode loaded")
			c.App.Println(RenderTransitionTable(transitions))
			return nil
		},
	})
}

// CompleteEpisodes provides tab completion for episode IDs.
func CompleteEpisodes(_ string, _ []string) []string {
	episodes, err := store.ListEpisodes(context.Background())
	if err != nil {
		return []string{}
	}

	var completions []string
	for _, ep := range episodes {
		completions = append(completions, ep.ID)
	}
	return completions
}

// main is the entry point for the application.
func main() {
	configureLogging()

	app := setupCLI()
	AddCommands(app)

	if err := app.Run(); err != nil {
		log.Fatal().Msg(err.Error())
	}
}

// configureLogging sets up zerolog with appropriate formatting and level.
func configureLogging() {
	log.Logger = log.Output(zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: "15:04:05",
	})

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
}

// setupCLI initializes the command-line interface with basic configuration.
func setupCLI() *grumble.App {
	// Determine history file location
	var histFile string
	home, err := os.UserHomeDir()
	if err != nil {
		histFile = ".simgym" // current working directory
	} else {
		histFile = filepath.Join(home, ".simgym") // home directory
	}

	app := grumble.New(&grumble.Config{
		Name:        "simgym",
		HistoryFile: histFile,
		Flags: func(f *grumble.Flags) {
			f.String("c", "config", "", "path to configuration file")
			f.String("e", "env-file", "", "path to an optional .env file")
		},
	})

	app.SetPrintASCIILogo(func(a *grumble.App) {
		fmt.Print(banner)
	})

	// Initialize configuration and the episode store when the app starts
	app.OnInit(func(a *grumble.App, flags grumble.FlagMap) error {
		if envFile := flags.String("env-file"); envFile != "" {
			if err := godotenv.Load(envFile); err != nil {
				return fmt.Errorf("failed to load env file: %v", err)
			}
		} else {
			// A .env next to the binary is optional.
			_ = godotenv.Load()
		}

		var err error
		config, err = LoadConfig(flags.String("config"))
		if err != nil {
			return fmt.Errorf("failed to load configuration: %v", err)
		}

		dbPath := os.Getenv("SIMGYM_DB")
		if dbPath == "" {
			dbPath = config.DBPath
		}
		kind, path := record.KindMemory, ""
		if dbPath != "" {
			kind, path = record.KindSQLite, dbPath
		}

		store, err = record.NewStore(kind, path)
		if err != nil {
			return fmt.Errorf("failed to create episode store: %v", err)
		}
		if err := store.Init(context.Background()); err != nil {
			return fmt.Errorf("failed to initialize episode store: %v", err)
		}

		return nil
	})

	return app
}
