package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	bind            string
	countdown       time.Duration
	generateTimeout time.Duration
	geminiKey       string
	geminiModels    []string
	judgeTimeout    time.Duration
	playerTimeout   time.Duration
	port            int
	prefix          string
	profile         bool
	questionTime    time.Duration
	roomCapacity    int
	tlsCert         string
	tlsKey          string
	verbose         bool
	version         bool
}

func (c *Config) validate() error {
	if (c.tlsCert == "") != (c.tlsKey == "") {
		return errors.New("both --tls-cert and --tls-key must be provided together")
	}
	if c.port < 1 || c.port > 65535 {
		return fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.port)
	}
	if c.roomCapacity < readyQuorum {
		return fmt.Errorf("invalid room capacity (a round needs at least %d players): %d", readyQuorum, c.roomCapacity)
	}
	if c.countdown <= 0 || c.questionTime <= 0 {
		return errors.New("countdown and question durations must be positive")
	}
	if len(c.geminiModels) == 0 {
		return errors.New("at least one Gemini model must be configured")
	}
	return nil
}

func (c *Config) scheme() string {
	if c.tlsCert != "" && c.tlsKey != "" {
		return "https"
	}
	return "http"
}

func newCmd(cfg *Config) *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("QUIZBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd := &cobra.Command{
		Use:           "quizbox",
		Short:         "A two-player social trivia server with an AI quiz host.",
		Args:          cobra.ExactArgs(0),
		SilenceErrors: true,
		Version:       releaseVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.validate(); err != nil {
				return err
			}
			return ServePage(cmd.Context(), cfg, args)
		},
	}

	fs := cmd.Flags()

	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.bind, "bind", "b", "0.0.0.0", "address to bind to (env: QUIZBOX_BIND)")
	fs.DurationVar(&cfg.countdown, "countdown", 10*time.Second, "length of the pre-question countdown (env: QUIZBOX_COUNTDOWN)")
	fs.DurationVar(&cfg.generateTimeout, "generate-timeout", 30*time.Second, "time allowed for question generation (env: QUIZBOX_GENERATE_TIMEOUT)")
	fs.StringVar(&cfg.geminiKey, "gemini-api-key", "", "API key for the Gemini question host (env: QUIZBOX_GEMINI_API_KEY)")
	fs.StringSliceVar(&cfg.geminiModels, "gemini-models", []string{"gemini-2.0-flash", "gemini-1.5-flash-latest", "gemini-1.5-flash"}, "ordered Gemini model candidates (env: QUIZBOX_GEMINI_MODELS)")
	fs.DurationVar(&cfg.judgeTimeout, "judge-timeout", 10*time.Second, "time allowed for judging a single answer (env: QUIZBOX_JUDGE_TIMEOUT)")
	fs.DurationVar(&cfg.playerTimeout, "player-timeout", 90*time.Second, "time before idle players are dropped and their rooms reaped (env: QUIZBOX_PLAYER_TIMEOUT)")
	fs.IntVarP(&cfg.port, "port", "p", 8080, "port to listen on (env: QUIZBOX_PORT)")
	fs.StringVar(&cfg.prefix, "prefix", "", "path to prepend to all URLs, for use behind reverse proxy (env: QUIZBOX_PREFIX)")
	fs.BoolVar(&cfg.profile, "profile", false, "register net/http/pprof handlers (env: QUIZBOX_PROFILE)")
	fs.DurationVar(&cfg.questionTime, "question-duration", 45*time.Second, "time players have to answer a question (env: QUIZBOX_QUESTION_DURATION)")
	fs.IntVar(&cfg.roomCapacity, "room-capacity", 2, "maximum number of players per room (env: QUIZBOX_ROOM_CAPACITY)")
	fs.StringVar(&cfg.tlsCert, "tls-cert", "", "path to tls certificate (env: QUIZBOX_TLS_CERT)")
	fs.StringVar(&cfg.tlsKey, "tls-key", "", "path to tls keyfile (env: QUIZBOX_TLS_KEY)")
	fs.BoolVarP(&cfg.verbose, "verbose", "v", false, "display additional output (env: QUIZBOX_VERBOSE)")
	fs.BoolVarP(&cfg.version, "version", "V", false, "display version and exit (env: QUIZBOX_VERSION)")

	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			_ = fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name)))
		}
	})

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("quizbox v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
