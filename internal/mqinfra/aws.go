package mqinfra

import (
	"context"
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/hookdeck/mqbridge/internal/mqs"
	"github.com/hookdeck/mqbridge/internal/util/awsutil"
)

type infraAWSSQS struct {
	cfg *mqs.AWSSQSConfig
}

func (infra *infraAWSSQS) queues() []string {
	var queues []string
	for _, q := range []string{infra.cfg.SendQueue, infra.cfg.ReceiveQueue} {
		if q != "" && (len(queues) == 0 || queues[0] != q) {
			queues = append(queues, q)
		}
	}
	return queues
}

func (infra *infraAWSSQS) client(ctx context.Context) (*sqs.Client, error) {
	if infra.cfg == nil {
		return nil, errors.New("failed assertion: cfg.AWSSQS != nil") // IMPOSSIBLE
	}
	clientConfig, err := infra.cfg.ToClientConfig()
	if err != nil {
		return nil, err
	}
	return awsutil.SQSClientFromConfig(ctx, clientConfig)
}

func (infra *infraAWSSQS) Declare(ctx context.Context) error {
	sqsClient, err := infra.client(ctx)
	if err != nil {
		return err
	}

	for _, queue := range infra.queues() {
		if _, err := awsutil.EnsureQueue(ctx, sqsClient, queue, awsutil.MakeCreateQueue(nil)); err != nil {
			return err
		}
	}
	return nil
}

func (infra *infraAWSSQS) TearDown(ctx context.Context) error {
	sqsClient, err := infra.client(ctx)
	if err != nil {
		return err
	}

	for _, queue := range infra.queues() {
		queueURL, err := awsutil.RetrieveQueueURL(ctx, sqsClient, queue)
		if err != nil {
			if awsutil.IsQueueDoesNotExist(err) {
				continue
			}
			return err
		}
		if err := awsutil.DeleteQueue(ctx, sqsClient, queueURL); err != nil {
			return err
		}
	}
	return nil
}
