package mqs

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/hookdeck/mqbridge/internal/redis"
	"github.com/hookdeck/mqbridge/internal/util/awsutil"
)

const (
	InfraTCP             = "tcp"
	InfraInMemory        = "inmemory"
	InfraRabbitMQ        = "rabbitmq"
	InfraRedis           = "redis"
	InfraKafka           = "kafka"
	InfraAWSSQS          = "awssqs"
	InfraGCPPubSub       = "gcppubsub"
	InfraAzureServiceBus = "azureservicebus"
)

// SocketConfig selects and configures the transport of one socket. Exactly
// one field must be set.
type SocketConfig struct {
	TCP             *TCPConfig             `yaml:"tcp"`
	InMemory        *InMemoryConfig        `yaml:"inmemory"`
	RabbitMQ        *RabbitMQConfig        `yaml:"rabbitmq"`
	Redis           *RedisConfig           `yaml:"redis"`
	Kafka           *KafkaConfig           `yaml:"kafka"`
	AWSSQS          *AWSSQSConfig          `yaml:"awssqs"`
	GCPPubSub       *GCPPubSubConfig       `yaml:"gcppubsub"`
	AzureServiceBus *AzureServiceBusConfig `yaml:"azureservicebus"`
}

type TCPConfig struct {
	// Listen on Address when true, otherwise dial it.
	Bind    bool   `yaml:"bind"`
	Address string `yaml:"address"`
}

type InMemoryConfig struct {
	Bind bool   `yaml:"bind"`
	Name string `yaml:"name"`
}

type RabbitMQConfig struct {
	ServerURL string `yaml:"server_url"`
	// Messages are sent to Exchange and received from Queue.
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
	// Only used when the infrastructure is declared.
	DeliveryLimit int `yaml:"delivery_limit"`
}

type RedisConfig struct {
	redis.RedisConfig `yaml:",inline"`
	SendList          string `yaml:"send_list"`
	ReceiveList       string `yaml:"receive_list"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"`
	SendTopic    string   `yaml:"send_topic"`
	ReceiveTopic string   `yaml:"receive_topic"`
	GroupID      string   `yaml:"group_id"`
	Partitions   int      `yaml:"partitions"`
}

type AWSSQSConfig struct {
	Endpoint                  string `yaml:"endpoint"`
	Region                    string `yaml:"region"`
	ServiceAccountCredentials string `yaml:"service_account_credentials"` // key:secret[:session]
	SendQueue                 string `yaml:"send_queue"`
	ReceiveQueue              string `yaml:"receive_queue"`
}

type GCPPubSubConfig struct {
	ProjectID                 string `yaml:"project_id"`
	Endpoint                  string `yaml:"endpoint"` // emulator host:port
	ServiceAccountCredentials string `yaml:"service_account_credentials"`
	SendTopic                 string `yaml:"send_topic"`
	ReceiveTopic              string `yaml:"receive_topic"`
	ReceiveSubscription       string `yaml:"receive_subscription"`
}

type AzureServiceBusConfig struct {
	ConnectionString string `yaml:"connection_string"`
	// Namespace is used with the default Azure credential chain when no
	// connection string is set.
	Namespace           string `yaml:"namespace"`
	SendTopic           string `yaml:"send_topic"`
	ReceiveTopic        string `yaml:"receive_topic"`
	ReceiveSubscription string `yaml:"receive_subscription"`
}

func (c *SocketConfig) GetInfraType() string {
	switch {
	case c.TCP != nil:
		return InfraTCP
	case c.InMemory != nil:
		return InfraInMemory
	case c.RabbitMQ != nil:
		return InfraRabbitMQ
	case c.Redis != nil:
		return InfraRedis
	case c.Kafka != nil:
		return InfraKafka
	case c.AWSSQS != nil:
		return InfraAWSSQS
	case c.GCPPubSub != nil:
		return InfraGCPPubSub
	case c.AzureServiceBus != nil:
		return InfraAzureServiceBus
	}
	return ""
}

func (c *SocketConfig) count() int {
	n := 0
	for _, set := range []bool{
		c.TCP != nil,
		c.InMemory != nil,
		c.RabbitMQ != nil,
		c.Redis != nil,
		c.Kafka != nil,
		c.AWSSQS != nil,
		c.GCPPubSub != nil,
		c.AzureServiceBus != nil,
	} {
		if set {
			n++
		}
	}
	return n
}

// Validate checks that exactly one transport is configured and that it has
// what it needs to open.
func (c *SocketConfig) Validate() error {
	switch c.count() {
	case 0:
		return fmt.Errorf("%w: no transport configured", ErrInvalidConfig)
	case 1:
	default:
		return fmt.Errorf("%w: more than one transport configured", ErrInvalidConfig)
	}

	var missing string
	switch c.GetInfraType() {
	case InfraTCP:
		if c.TCP.Address == "" {
			missing = "tcp.address"
		}
	case InfraInMemory:
		if c.InMemory.Name == "" {
			missing = "inmemory.name"
		}
	case InfraRabbitMQ:
		switch {
		case c.RabbitMQ.ServerURL == "":
			missing = "rabbitmq.server_url"
		case c.RabbitMQ.Exchange == "" && c.RabbitMQ.Queue == "":
			missing = "rabbitmq.exchange or rabbitmq.queue"
		}
	case InfraRedis:
		switch {
		case c.Redis.Host == "":
			missing = "redis.host"
		case c.Redis.SendList == "" && c.Redis.ReceiveList == "":
			missing = "redis.send_list or redis.receive_list"
		}
	case InfraKafka:
		switch {
		case len(c.Kafka.Brokers) == 0:
			missing = "kafka.brokers"
		case c.Kafka.SendTopic == "" && c.Kafka.ReceiveTopic == "":
			missing = "kafka.send_topic or kafka.receive_topic"
		case c.Kafka.ReceiveTopic != "" && c.Kafka.GroupID == "":
			missing = "kafka.group_id"
		}
	case InfraAWSSQS:
		switch {
		case c.AWSSQS.Region == "":
			missing = "awssqs.region"
		case c.AWSSQS.SendQueue == "" && c.AWSSQS.ReceiveQueue == "":
			missing = "awssqs.send_queue or awssqs.receive_queue"
		}
	case InfraGCPPubSub:
		switch {
		case c.GCPPubSub.ProjectID == "":
			missing = "gcppubsub.project_id"
		case c.GCPPubSub.SendTopic == "" && c.GCPPubSub.ReceiveSubscription == "":
			missing = "gcppubsub.send_topic or gcppubsub.receive_subscription"
		}
	case InfraAzureServiceBus:
		switch {
		case c.AzureServiceBus.ConnectionString == "" && c.AzureServiceBus.Namespace == "":
			missing = "azureservicebus.connection_string or azureservicebus.namespace"
		case c.AzureServiceBus.SendTopic == "" && c.AzureServiceBus.ReceiveSubscription == "":
			missing = "azureservicebus.send_topic or azureservicebus.receive_subscription"
		case c.AzureServiceBus.ReceiveSubscription != "" && c.AzureServiceBus.ReceiveTopic == "":
			missing = "azureservicebus.receive_topic"
		}
	}
	if missing != "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidConfig, missing)
	}
	return nil
}

// ToCredentials parses "key:secret[:session]". An empty string falls back to
// the default AWS credential chain.
func (c *AWSSQSConfig) ToCredentials() (aws.CredentialsProvider, error) {
	if c.ServiceAccountCredentials == "" {
		return nil, nil
	}
	parts := strings.Split(c.ServiceAccountCredentials, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return nil, fmt.Errorf("%w: awssqs.service_account_credentials must be key:secret[:session]", ErrInvalidConfig)
	}
	session := ""
	if len(parts) == 3 {
		session = parts[2]
	}
	return credentials.NewStaticCredentialsProvider(parts[0], parts[1], session), nil
}

func (c *AWSSQSConfig) ToClientConfig() (awsutil.SQSClientConfig, error) {
	creds, err := c.ToCredentials()
	if err != nil {
		return awsutil.SQSClientConfig{}, err
	}
	return awsutil.SQSClientConfig{
		Region:      c.Region,
		Endpoint:    c.Endpoint,
		Credentials: creds,
	}, nil
}
