package config

import "time"

// Messaging definition messaging_service YAML structure
type Messaging struct {
	Port string

	// send timeout bounds the optimistic-UI wait; writes may still land later
	SendTimeout       time.Duration `mapstructure:"send_timeout"`
	MaxAttachmentSize int64         `mapstructure:"max_attachment_size"`
	FirstPageSize     int           `mapstructure:"first_page_size"`

	MongoSQL  DatabaseConfig `mapstructure:"mongo"`
	Postgres  DatabaseConfig `mapstructure:"pg"`
	Redis     RedisConfig    `mapstructure:"redis"`
	MinIO     MinIOConfig    `mapstructure:"minio"`
	RabbitMQ  RabbitConfig   `mapstructure:"rabbitmq"`
	Kafka     KafkaConfig    `mapstructure:"kafka"`
}

// RedisConfig definition redis setting
type RedisConfig struct {
	RedisDB int `mapstructure:"redis_db"`
}

// DatabaseConfig definition db setting
type DatabaseConfig struct {
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Database      string `mapstructure:"database"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// MinIOConfig definition attachment bucket setting
type MinIOConfig struct {
	Endpoint      string `mapstructure:"endpoint"`
	User          string `mapstructure:"user"`
	Password      string `mapstructure:"password"`
	Bucket        string `mapstructure:"bucket"`
	UseSSL        bool   `mapstructure:"use_ssl"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// RabbitConfig definition notification exchange setting
type RabbitConfig struct {
	URL           string `mapstructure:"url"`
	Exchange      string `mapstructure:"exchange"`
	RetryInterval int    `mapstructure:"retry_interval"`
	RetryCount    int    `mapstructure:"retry_count"`
}

// KafkaConfig definition audit topic setting
type KafkaConfig struct {
	Brokers       []string `mapstructure:"brokers"`
	Topic         string   `mapstructure:"topic"`
	RetryInterval int      `mapstructure:"retry_interval"`
	RetryCount    int      `mapstructure:"retry_count"`
}
