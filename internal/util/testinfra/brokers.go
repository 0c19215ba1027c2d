package testinfra

import (
	"context"
	"log"
	"strings"
	"sync"

	"github.com/testcontainers/testcontainers-go/modules/gcloud"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/localstack"
	"github.com/testcontainers/testcontainers-go/modules/rabbitmq"
)

// GCPProjectID is the project used against the pubsub emulator.
const GCPProjectID = "mqbridge-test"

var (
	rabbitmqOnce   sync.Once
	localstackOnce sync.Once
	gcpOnce        sync.Once
	kafkaOnce      sync.Once
)

func EnsureRabbitMQ() string {
	cfg := ReadConfig()
	if cfg.RabbitMQURL == "" {
		rabbitmqOnce.Do(func() {
			ctx := context.Background()
			container, err := rabbitmq.Run(ctx, "rabbitmq:3.13-management-alpine",
				rabbitmq.WithAdminUsername("guest"),
				rabbitmq.WithAdminPassword("guest"),
			)
			if err != nil {
				panic(err)
			}
			url, err := container.AmqpURL(ctx)
			if err != nil {
				panic(err)
			}
			log.Printf("RabbitMQ running at %s", url)
			cfg.RabbitMQURL = url
			addCleanup(func() {
				if err := container.Terminate(ctx); err != nil {
					log.Printf("failed to terminate container: %s", err)
				}
			})
		})
	}
	return cfg.RabbitMQURL
}

func EnsureLocalStack() string {
	cfg := ReadConfig()
	if cfg.LocalStackURL == "" {
		localstackOnce.Do(func() {
			ctx := context.Background()
			container, err := localstack.Run(ctx, "localstack/localstack:3.8")
			if err != nil {
				panic(err)
			}
			endpoint, err := container.PortEndpoint(ctx, "4566/tcp", "http")
			if err != nil {
				panic(err)
			}
			log.Printf("LocalStack running at %s", endpoint)
			cfg.LocalStackURL = endpoint
			addCleanup(func() {
				if err := container.Terminate(ctx); err != nil {
					log.Printf("failed to terminate container: %s", err)
				}
			})
		})
	}
	return cfg.LocalStackURL
}

// EnsureGCP returns the host:port of a pubsub emulator.
func EnsureGCP() string {
	cfg := ReadConfig()
	if cfg.GCPURL == "" {
		gcpOnce.Do(func() {
			ctx := context.Background()
			container, err := gcloud.RunPubsub(ctx,
				"gcr.io/google.com/cloudsdktool/cloud-sdk:367.0.0-emulators",
				gcloud.WithProjectID(GCPProjectID),
			)
			if err != nil {
				panic(err)
			}
			log.Printf("GCP pubsub emulator running at %s", container.URI)
			cfg.GCPURL = container.URI
			addCleanup(func() {
				if err := container.Terminate(ctx); err != nil {
					log.Printf("failed to terminate container: %s", err)
				}
			})
		})
	}
	return cfg.GCPURL
}

// EnsureKafka returns the broker addresses of a single node cluster.
func EnsureKafka() []string {
	cfg := ReadConfig()
	if cfg.KafkaURL == "" {
		kafkaOnce.Do(func() {
			ctx := context.Background()
			container, err := kafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
				kafka.WithClusterID("mqbridge-test"),
			)
			if err != nil {
				panic(err)
			}
			brokers, err := container.Brokers(ctx)
			if err != nil {
				panic(err)
			}
			log.Printf("Kafka running at %s", strings.Join(brokers, ","))
			cfg.KafkaURL = strings.Join(brokers, ",")
			addCleanup(func() {
				if err := container.Terminate(ctx); err != nil {
					log.Printf("failed to terminate container: %s", err)
				}
			})
		})
	}
	return strings.Split(cfg.KafkaURL, ",")
}
