package mqttbridge

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	bucket    = "plen"
	configKey = "mqttbridge_config"
)

type MQTTConfig struct {
	Broker    string `json:"broker"` // e.g. tcp://localhost:1883
	Username  string `json:"username"`
	Password  string `json:"password"`
	ClientID  string `json:"client_id"`
	TopicRoot string `json:"topic_root"`
}

type Config struct {
	MQTTConfig
	ResponseTimeout int `json:"response_timeout_ms"` // milliseconds
}

var defaultConfig = Config{
	MQTTConfig: MQTTConfig{
		Broker:    "tcp://localhost:1883",
		ClientID:  "plen-control-server",
		TopicRoot: "plen",
	},
	ResponseTimeout: 5000,
}

// DefaultConfig returns the configuration used when none is stored.
func DefaultConfig() Config {
	return defaultConfig
}

func (c Config) timeout() time.Duration {
	return time.Duration(c.ResponseTimeout) * time.Millisecond
}

func (c Config) commandTopic() string {
	return c.TopicRoot + "/commands"
}

func (c Config) responseTopic() string {
	return c.TopicRoot + "/responses"
}

// Validate checks that the configuration can be used to reach a bridge.
func (c Config) Validate() error {
	if c.Broker == "" {
		return fmt.Errorf("broker cannot be empty")
	}
	if c.TopicRoot == "" || strings.ContainsAny(c.TopicRoot, "#+") {
		return fmt.Errorf("invalid topic root: %q", c.TopicRoot)
	}
	if c.ResponseTimeout <= 0 {
		return fmt.Errorf("invalid response timeout: %d", c.ResponseTimeout)
	}
	return nil
}

type store struct {
	db *bolt.DB
}

// NewStore creates a new store instance and sets default values if they are not already set.
func NewStore(db *bolt.DB) (*store, error) {
	st := store{db: db}

	if err := st.setDefaults(); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *store) setDefaults() error {
	if _, err := s.GetConfig(); err != nil {
		log.Infof("Setting default MQTT bridge config")
		return s.SetConfig(defaultConfig)
	}

	return nil
}

// SetConfig saves the bridge configuration as a json string in the database.
func (s *store) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return err
		}

		value, err := json.Marshal(cfg)
		if err != nil {
			return err
		}
		return b.Put([]byte(configKey), value)
	})
}

// GetConfig retrieves the bridge configuration from the database.
func (s *store) GetConfig() (Config, error) {
	var cfg Config

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return fmt.Errorf("bucket %s not found", bucket)
		}

		value := b.Get([]byte(configKey))
		if value == nil {
			return fmt.Errorf("key config not found")
		}

		return json.Unmarshal(value, &cfg)
	})

	return cfg, err
}
