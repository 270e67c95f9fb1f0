package actors

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"civicmesh/engine/library"
	"github.com/spf13/viper"
)

// InitConfig sets up our Viper config object. Values already set on config
// (flags, tests) win over the file, which wins over the defaults below.
func InitConfig(config *viper.Viper) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		library.LogCLI(err.Error(), 1)
		homeDir = os.TempDir()
	}
	config.SetEnvPrefix("civicmesh")
	config.AutomaticEnv()
	config.SetDefault("rootDir", filepath.Join(homeDir, "civicmesh"))
	config.SetConfigType("yaml")
	config.SetConfigFile(filepath.Join(config.GetString("rootDir"), "config.yaml"))
	err = config.ReadInConfig()
	if err != nil {
		library.LogCLI(err.Error(), 4)
	}
	config.SetDefault("flatFileDir", "data")
	config.SetDefault("logLevel", 4)
	config.SetDefault("storeBackend", "file")
	config.SetDefault("offline", false)
	config.SetDefault("relays", []string{"wss://nos.lol", "wss://relay.damus.io"})
	config.SetDefault("publishInterval", "250ms")
	config.SetDefault("ackProbeDelay", "200ms")
	config.SetDefault("ackProbes", 1)
	config.SetDefault("ackTimeout", "3000ms")
	config.SetDefault("ioTimeout", "2s")
	config.SetDefault("batchLimit", 16)
	config.SetDefault("minTrustScore", 0.5)
	config.SetDefault("acceptedRoots", []string{})
	config.SetDefault("metricsAddr", "127.0.0.1:9464")
	config.SetDefault("flushInterval", "30s")
	config.SetDefault("rounds", []string{})
	// Create our working directory and config file if not exist
	initRootDir(config)
	if err = config.WriteConfig(); err != nil {
		library.LogCLI(err.Error(), 2)
	}
}

func initRootDir(conf *viper.Viper) {
	root := conf.GetString("rootDir")
	if err := os.MkdirAll(root, 0755); err != nil {
		library.LogCLI(err, 1)
		return
	}
	path := filepath.Join(root, "config.yaml")
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(path, nil, 0644); err != nil {
			library.LogCLI(err, 1)
		}
	}
}

type Settings struct {
	RootDir         string
	DataDir         string
	LogLevel        int
	StoreBackend    string
	Offline         bool
	Relays          []string
	PublishInterval time.Duration
	AckProbeDelay   time.Duration
	AckProbes       int
	AckTimeout      time.Duration
	IOTimeout       time.Duration
	BatchLimit      int
	MinTrustScore   float64
	AcceptedRoots   []string
	MetricsAddr     string
	FlushInterval   time.Duration
	Rounds          []Round
}

func LoadSettings(conf *viper.Viper) Settings {
	return Settings{
		RootDir:         conf.GetString("rootDir"),
		DataDir:         filepath.Join(conf.GetString("rootDir"), conf.GetString("flatFileDir")),
		LogLevel:        conf.GetInt("logLevel"),
		StoreBackend:    conf.GetString("storeBackend"),
		Offline:         conf.GetBool("offline"),
		Relays:          conf.GetStringSlice("relays"),
		PublishInterval: conf.GetDuration("publishInterval"),
		AckProbeDelay:   conf.GetDuration("ackProbeDelay"),
		AckProbes:       conf.GetInt("ackProbes"),
		AckTimeout:      conf.GetDuration("ackTimeout"),
		IOTimeout:       conf.GetDuration("ioTimeout"),
		BatchLimit:      conf.GetInt("batchLimit"),
		MinTrustScore:   conf.GetFloat64("minTrustScore"),
		AcceptedRoots:   conf.GetStringSlice("acceptedRoots"),
		MetricsAddr:     conf.GetString("metricsAddr"),
		FlushInterval:   conf.GetDuration("flushInterval"),
		Rounds:          parseRounds(conf.GetStringSlice("rounds")),
	}
}
