package config

// Package config provides a reusable loader for node configuration files
// and environment variables. It is versioned so that applications can depend
// on a stable API contract.
//
// Version: v0.1.0

import (
	"fmt"

	"github.com/spf13/viper"

	"nanogo/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config represents the unified configuration for a nanogo node. It mirrors
// the structure of the YAML files under cmd/config.
type Config struct {
	Network struct {
		ID             string   `mapstructure:"id" json:"id"`
		ChainID        int      `mapstructure:"chain_id" json:"chain_id"`
		MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
		GenesisFile    string   `mapstructure:"genesis_file" json:"genesis_file"`
		RPCEnabled     bool     `mapstructure:"rpc_enabled" json:"rpc_enabled"`
		P2PPort        int      `mapstructure:"p2p_port" json:"p2p_port"`
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Ledger struct {
		StorePath string `mapstructure:"store_path" json:"store_path"`
	} `mapstructure:"ledger" json:"ledger"`

	Election struct {
		QuorumFraction      float64 `mapstructure:"quorum_fraction" json:"quorum_fraction"`
		AECNormalCapacity   int     `mapstructure:"aec_normal_capacity" json:"aec_normal_capacity"`
		AECHintedCapacity   int     `mapstructure:"aec_hinted_capacity" json:"aec_hinted_capacity"`
		AECOptimisticCap    int     `mapstructure:"aec_optimistic_capacity" json:"aec_optimistic_capacity"`
		ExpiryTimeoutMS     int     `mapstructure:"expiry_timeout_ms" json:"expiry_timeout_ms"`
		VoteCacheMaxEntries int     `mapstructure:"vote_cache_max_entries" json:"vote_cache_max_entries"`
	} `mapstructure:"election" json:"election"`

	Scheduler struct {
		BucketCount       int `mapstructure:"bucket_count" json:"bucket_count"`
		BucketCapacity    int `mapstructure:"bucket_capacity" json:"bucket_capacity"`
		CementBatchMS     int `mapstructure:"cement_batch_ms" json:"cement_batch_ms"`
	} `mapstructure:"scheduler" json:"scheduler"`

	Bootstrap struct {
		PullConcurrency   int  `mapstructure:"pull_concurrency" json:"pull_concurrency"`
		PullRetryLimit    int  `mapstructure:"pull_retry_limit" json:"pull_retry_limit"`
		PushDisabled      bool `mapstructure:"push_disabled" json:"push_disabled"`
		DrainTimeoutMS    int  `mapstructure:"drain_timeout_ms" json:"drain_timeout_ms"`
		ConnPoolMaxIdle   int  `mapstructure:"conn_pool_max_idle" json:"conn_pool_max_idle"`
		ConnPoolIdleTTLS  int  `mapstructure:"conn_pool_idle_ttl_s" json:"conn_pool_idle_ttl_s"`
		DialTimeoutS      int  `mapstructure:"dial_timeout_s" json:"dial_timeout_s"`
	} `mapstructure:"bootstrap" json:"bootstrap"`

	PeerHistory struct {
		CheckIntervalS int `mapstructure:"check_interval_s" json:"check_interval_s"`
		EraseCutoffS   int `mapstructure:"erase_cutoff_s" json:"erase_cutoff_s"`
	} `mapstructure:"peer_history" json:"peer_history"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the NANOGO_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("NANOGO_ENV", ""))
}
