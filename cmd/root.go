package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/predicateautomate/drugsync/internal/config"
	"github.com/predicateautomate/drugsync/internal/utils"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

var cfgFile string

// logCloser is the tee'd log file, if log.file is set.
var logCloser io.Closer

// errUnclean is returned when a run finished as partial or failed. The
// summary has already been printed, so Execute only sets the exit status.
var errUnclean = errors.New("run did not complete cleanly")

const (
	LOGO = `     _                                         
  __| |_ __ _   _  __ _ ___ _   _ _ __   ___ 
 / _' | '__| | | |/ _' / __| | | | '_ \ / __|
| (_| | |  | |_| | (_| \__ \ |_| | | | | (__ 
 \__,_|_|   \__,_|\__, |___/\__, |_| |_|\___|
                  |___/     |___/            
`
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "drugsync",
	Short: "Keeps a predicate-drug table in sync with the FDA Drugs@FDA dataset.",
	Long: LOGO + `
drugsync downloads the Drugs@FDA dataset, flattens every application into one
row per submission and product, and inserts the rows that are not stored yet.
Re-running it against the same data inserts nothing.`,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errUnclean) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.drugsync.yaml)")

	// Global flags
	rootCmd.PersistentFlags().StringP("loglevel", "l", "", "Set log level. Available: debug, info, warn, error, fatal")
	rootCmd.PersistentFlags().String("logformat", "", "Log format: text or json")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("loglevel"))
	viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("logformat"))
}

// initConfig reads in .env, the config file and ENV variables if set.
func initConfig() {
	// A missing .env is normal outside development.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		utils.Log.Warnf("Could not load .env: %v", err)
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath(home)
		viper.SetConfigName(".drugsync")
		viper.SetConfigType("yaml")
	}

	config.SetDefaults(viper.GetViper())
	viper.SetEnvPrefix("DRUGSYNC")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	config.BindLegacyEnv(viper.GetViper())

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "Error reading config file: %s\n", err)
			os.Exit(1)
		}
	}

	// Init log library
	if err := utils.SetLogLevel(viper.GetString("log.level")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := utils.SetLogFormat(viper.GetString("log.format")); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if path := viper.GetString("log.file"); path != "" {
		c, err := utils.TeeLogFile(path)
		if err != nil {
			utils.Log.Warnf("%v", err)
		} else {
			logCloser = c
		}
	}
	if f := viper.ConfigFileUsed(); f != "" {
		utils.Log.Debugf("Using config file %s", f)
	}
}

// loadConfig builds the immutable run configuration; flags are already
// bound into viper by the time a command runs.
func loadConfig() (config.Config, error) {
	return config.Load(viper.GetViper())
}
