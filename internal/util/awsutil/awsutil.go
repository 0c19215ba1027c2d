package awsutil

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
)

type SQSClientConfig struct {
	Region   string
	Endpoint string
	// Nil uses the default credential chain.
	Credentials aws.CredentialsProvider
}

func SQSClientFromConfig(ctx context.Context, cfg SQSClientConfig) (*sqs.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.Credentials != nil {
		opts = append(opts, config.WithCredentialsProvider(cfg.Credentials))
	}

	sdkConfig, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}

	sqsClient := sqs.NewFromConfig(sdkConfig, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return sqsClient, nil
}

type CreateQueueFn func(ctx context.Context, sqsClient *sqs.Client, queueName string) (*sqs.CreateQueueOutput, error)

// MakeCreateQueue returns a CreateQueueFn that creates a standard queue with
// the given attributes.
func MakeCreateQueue(attributes map[string]string) CreateQueueFn {
	return func(ctx context.Context, sqsClient *sqs.Client, queueName string) (*sqs.CreateQueueOutput, error) {
		return sqsClient.CreateQueue(ctx, &sqs.CreateQueueInput{
			QueueName:  aws.String(queueName),
			Attributes: attributes,
		})
	}
}

func EnsureQueue(ctx context.Context, sqsClient *sqs.Client, queueName string, createQueue CreateQueueFn) (string, error) {
	queueURL, err := RetrieveQueueURL(ctx, sqsClient, queueName)
	if err == nil {
		return queueURL, nil
	}
	if !IsQueueDoesNotExist(err) {
		return "", err
	}
	createdQueue, err := createQueue(ctx, sqsClient, queueName)
	if err != nil {
		return "", err
	}
	return aws.ToString(createdQueue.QueueUrl), nil
}

func RetrieveQueueURL(ctx context.Context, sqsClient *sqs.Client, queueName string) (string, error) {
	queue, err := sqsClient.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{
		QueueName: aws.String(queueName),
	})
	if err != nil {
		return "", err
	}
	return aws.ToString(queue.QueueUrl), nil
}

func DeleteQueue(ctx context.Context, sqsClient *sqs.Client, queueURL string) error {
	_, err := sqsClient.DeleteQueue(ctx, &sqs.DeleteQueueInput{
		QueueUrl: aws.String(queueURL),
	})
	return err
}

func IsQueueDoesNotExist(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	var notExist *types.QueueDoesNotExist
	return errors.As(err, &notExist) || apiErr.ErrorCode() == "AWS.SimpleQueueService.NonExistentQueue"
}
