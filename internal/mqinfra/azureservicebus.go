package mqinfra

import (
	"context"
	"errors"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
	"github.com/hookdeck/mqbridge/internal/mqs"
)

type infraAzureServiceBus struct {
	cfg *mqs.AzureServiceBusConfig
}

func (infra *infraAzureServiceBus) topics() []string {
	var topics []string
	for _, t := range []string{infra.cfg.SendTopic, infra.cfg.ReceiveTopic} {
		if t != "" && (len(topics) == 0 || topics[0] != t) {
			topics = append(topics, t)
		}
	}
	return topics
}

func (infra *infraAzureServiceBus) client() (*admin.Client, error) {
	if infra.cfg == nil {
		return nil, errors.New("failed assertion: cfg.AzureServiceBus != nil") // IMPOSSIBLE
	}
	if infra.cfg.ConnectionString != "" {
		return admin.NewClientFromConnectionString(infra.cfg.ConnectionString, nil)
	}

	var cred azcore.TokenCredential
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, err
	}
	return admin.NewClient(infra.cfg.Namespace, cred, nil)
}

func (infra *infraAzureServiceBus) Declare(ctx context.Context) error {
	client, err := infra.client()
	if err != nil {
		return err
	}

	for _, topic := range infra.topics() {
		existing, err := client.GetTopic(ctx, topic, nil)
		if err != nil {
			return err
		}
		if existing != nil {
			continue
		}
		if _, err := client.CreateTopic(ctx, topic, nil); err != nil && !isAzureConflict(err) {
			return err
		}
	}

	if infra.cfg.ReceiveSubscription == "" {
		return nil
	}
	existing, err := client.GetSubscription(ctx, infra.cfg.ReceiveTopic, infra.cfg.ReceiveSubscription, nil)
	if err != nil {
		return err
	}
	if existing == nil {
		_, err = client.CreateSubscription(ctx, infra.cfg.ReceiveTopic, infra.cfg.ReceiveSubscription, nil)
		if err != nil && !isAzureConflict(err) {
			return err
		}
	}
	return nil
}

func (infra *infraAzureServiceBus) TearDown(ctx context.Context) error {
	client, err := infra.client()
	if err != nil {
		return err
	}

	if infra.cfg.ReceiveSubscription != "" {
		_, err := client.DeleteSubscription(ctx, infra.cfg.ReceiveTopic, infra.cfg.ReceiveSubscription, nil)
		if err != nil && !isAzureNotFound(err) {
			return err
		}
	}
	for _, topic := range infra.topics() {
		if _, err := client.DeleteTopic(ctx, topic, nil); err != nil && !isAzureNotFound(err) {
			return err
		}
	}
	return nil
}

func isAzureNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// Another instance may create the same entity between the lookup and the
// create.
func isAzureConflict(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict
}
