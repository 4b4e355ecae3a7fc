package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
			} else {
				require.NoError(t, err)
				require.NotNil(t, cfg)

				// Verify some key fields are populated
				assert.Equal(t, 8080, cfg.Server.Port)
				assert.Equal(t, "localhost", cfg.Database.Host)
				assert.Equal(t, 5432, cfg.Database.Port)
				assert.Equal(t, "marketplace_db", cfg.Database.Database)
				assert.Equal(t, "submissions_exchange", cfg.RabbitMQ.Exchange.Name)
				assert.Equal(t, "submissions_queue", cfg.RabbitMQ.Queue.Name)
				assert.Equal(t, "marketplace-api-service", cfg.App.Name)
			}
		})
	}
}

func validBaseConfig() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "marketplace_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
			Exchange: ExchangeConfig{
				Name: "submissions_exchange",
			},
			Queue: QueueConfig{
				Name: "submissions_queue",
			},
		},
		Dispatch: DispatchConfig{
			AdminPort: 8090,
			Embedding: ProviderConfig{
				BaseURL: "http://localhost:9001",
			},
			Extraction: ProviderConfig{
				BaseURL: "http://localhost:9002",
			},
		},
	}
}

func TestConfig_ValidateAPIConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "invalid server port - too low",
			mutate:    func(c *Config) { c.Server.Port = 0 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "invalid server port - too high",
			mutate:    func(c *Config) { c.Server.Port = 70000 },
			wantErr:   true,
			errString: "invalid server port",
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			wantErr:   true,
			errString: "database name is required",
		},
		{
			name:      "empty rabbitmq host",
			mutate:    func(c *Config) { c.RabbitMQ.Host = "" },
			wantErr:   true,
			errString: "rabbitmq host is required",
		},
		{
			name:      "empty exchange name",
			mutate:    func(c *Config) { c.RabbitMQ.Exchange.Name = "" },
			wantErr:   true,
			errString: "rabbitmq exchange name is required",
		},
		{
			name:      "empty queue name",
			mutate:    func(c *Config) { c.RabbitMQ.Queue.Name = "" },
			wantErr:   true,
			errString: "rabbitmq queue name is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tt.mutate(cfg)

			err := cfg.ValidateAPIConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestConfig_ValidateDispatchConfig(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantErr   bool
		errString string
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:      "invalid admin port",
			mutate:    func(c *Config) { c.Dispatch.AdminPort = 0 },
			wantErr:   true,
			errString: "invalid admin port",
		},
		{
			name:      "missing extraction base_url",
			mutate:    func(c *Config) { c.Dispatch.Extraction.BaseURL = "" },
			wantErr:   true,
			errString: "extraction provider base_url is required",
		},
		{
			name:      "missing embedding base_url",
			mutate:    func(c *Config) { c.Dispatch.Embedding.BaseURL = "" },
			wantErr:   true,
			errString: "embedding provider base_url is required",
		},
		{
			name:      "acceptance threshold out of range",
			mutate:    func(c *Config) { c.Dispatch.Matching.AcceptanceThreshold = 1.5 },
			wantErr:   true,
			errString: "acceptance_threshold must be between 0 and 1",
		},
		{
			name:      "similarity floor out of range",
			mutate:    func(c *Config) { c.Dispatch.Retrieval.MinSimilarity = -0.1 },
			wantErr:   true,
			errString: "min_similarity must be between 0 and 1",
		},
		{
			name:      "shared sections still checked",
			mutate:    func(c *Config) { c.Database.Host = "" },
			wantErr:   true,
			errString: "database host is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validBaseConfig()
			tt.mutate(cfg)

			err := cfg.ValidateDispatchConfig()

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoad_ValidateIntegration(t *testing.T) {
	t.Run("load and validate valid config", func(t *testing.T) {
		cfg, err := Load("testdata/valid_config.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		require.NoError(t, cfg.ValidateAPIConfig())
		require.NoError(t, cfg.ValidateDispatchConfig())
	})

	t.Run("load config with invalid port", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("load config with missing database", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)
		require.NotNil(t, cfg)

		err = cfg.ValidateAPIConfig()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database name is required")
	})
}

func TestLoad_DispatchQueues(t *testing.T) {
	cfg, err := Load("testdata/valid_config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Dispatch.Queues.Analysis.Concurrency)
	assert.Equal(t, 10.0, cfg.Dispatch.Queues.Analysis.RatePerSecond)
	assert.Equal(t, 3, cfg.Dispatch.Queues.AutoAssign.Concurrency)
	assert.Equal(t, 5.0, cfg.Dispatch.Queues.AutoAssign.RatePerSecond)
	assert.Equal(t, 10, cfg.Dispatch.Queues.Notification.Concurrency)
	assert.Equal(t, 20.0, cfg.Dispatch.Queues.Notification.RatePerSecond)

	assert.Equal(t, 0.8, cfg.Dispatch.Matching.SkillWeight)
	assert.Equal(t, 0.5, cfg.Dispatch.Matching.AcceptanceThreshold)
	assert.Equal(t, 5, cfg.Dispatch.Retrieval.TopK)
	assert.Equal(t, 0.35, cfg.Dispatch.Retrieval.MinSimilarity)
}

func TestPortConstants(t *testing.T) {
	t.Run("port constants are correct", func(t *testing.T) {
		assert.Equal(t, 1, MinPort)
		assert.Equal(t, 65535, MaxPort)
	})

	t.Run("valid port range", func(t *testing.T) {
		validPorts := []int{1, 80, 443, 8080, 65535}
		for _, port := range validPorts {
			assert.GreaterOrEqual(t, port, MinPort)
			assert.LessOrEqual(t, port, MaxPort)
		}
	})

	t.Run("invalid port range", func(t *testing.T) {
		invalidPorts := []int{0, -1, 65536, 70000}
		for _, port := range invalidPorts {
			valid := port >= MinPort && port <= MaxPort
			assert.False(t, valid, "port %d should be invalid", port)
		}
	})
}
