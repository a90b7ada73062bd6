// Package alert notifies operators when the durable session store changes
// availability. Delivery of user-facing digests never depends on it.
package alert

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"weatherbot/internal/common/aws"
	"weatherbot/internal/common/config"
	"weatherbot/internal/common/logger"
)

// Notifier receives durable-store availability transitions.
type Notifier interface {
	StoreDegraded(reason string)
	StoreRecovered()
}

// NopNotifier ignores all transitions.
type NopNotifier struct{}

func (NopNotifier) StoreDegraded(string) {}
func (NopNotifier) StoreRecovered()      {}

// OpsNotifier publishes availability transitions via SNS and/or SES.
type OpsNotifier struct {
	cfg    config.AlertConfig
	sns    *aws.SNSClient
	ses    *aws.SESClient
	logger logger.Logger
}

func NewOpsNotifier(ctx context.Context, cfg config.AlertConfig, log logger.Logger) (*OpsNotifier, error) {
	n := &OpsNotifier{cfg: cfg, logger: log.WithFields(map[string]interface{}{"component": "alerts"})}

	if cfg.SNS.Enabled {
		client, err := aws.NewSNSClient(ctx, cfg.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("sns client: %w", err)
		}
		n.sns = client
	}

	if cfg.Email.Enabled {
		client, err := aws.NewSESClient(ctx, cfg.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("ses client: %w", err)
		}
		n.ses = client
	}

	return n, nil
}

func (n *OpsNotifier) StoreDegraded(reason string) {
	subject := "weatherbot: session store degraded"
	body := fmt.Sprintf("The durable session store became unavailable at %s.\nReason: %s\nThe bot is running in cache-only mode.",
		time.Now().UTC().Format(time.RFC3339), reason)
	n.publish(subject, body)
}

func (n *OpsNotifier) StoreRecovered() {
	subject := "weatherbot: session store recovered"
	body := fmt.Sprintf("The durable session store became reachable again at %s.",
		time.Now().UTC().Format(time.RFC3339))
	n.publish(subject, body)
}

func (n *OpsNotifier) publish(subject, body string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if n.sns != nil {
		_, err := n.sns.Publish(ctx, &sns.PublishInput{
			TopicArn: awssdk.String(n.cfg.SNS.TopicARN),
			Subject:  awssdk.String(subject),
			Message:  awssdk.String(body),
		})
		if err != nil {
			n.logger.Error("sns publish failed", map[string]interface{}{"error": err.Error()})
		}
	}

	if n.ses != nil {
		_, err := n.ses.SendEmail(ctx, &ses.SendEmailInput{
			Source: awssdk.String(n.cfg.Email.FromEmail),
			Destination: &sestypes.Destination{
				ToAddresses: []string{n.cfg.Email.ToEmail},
			},
			Message: &sestypes.Message{
				Subject: &sestypes.Content{Data: awssdk.String(subject)},
				Body: &sestypes.Body{
					Text: &sestypes.Content{Data: awssdk.String(body)},
				},
			},
		})
		if err != nil {
			n.logger.Error("ses send failed", map[string]interface{}{"error": err.Error()})
		}
	}
}
