package alerts

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

type PublishAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Failure describes one (tenant, domain) sync that did not complete.
type Failure struct {
	RunID  string
	Tenant string
	Domain string
	Window string
	Kind   string
	Err    error
}

// Notifier publishes sync failures to an SNS topic. A Notifier without a topic is a no-op.
type Notifier struct {
	sns      PublishAPI
	topicArn string
	stage    string
}

func NewNotifier(client PublishAPI, topicArn, stage string) *Notifier {
	if strings.TrimSpace(stage) == "" {
		stage = "dev"
	}
	return &Notifier{sns: client, topicArn: strings.TrimSpace(topicArn), stage: stage}
}

func (n *Notifier) Enabled() bool {
	return n != nil && n.sns != nil && n.topicArn != ""
}

func (n *Notifier) NotifyFailure(ctx context.Context, f Failure) error {
	if !n.Enabled() {
		return nil
	}

	subject := fmt.Sprintf("[%s] spapi sync failed: %s/%s", n.stage, f.Tenant, f.Domain)
	// SNS caps subjects at 100 characters.
	if len(subject) > 100 {
		subject = subject[:100]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Tenant: %s\n", f.Tenant)
	fmt.Fprintf(&b, "Domain: %s\n", f.Domain)
	if f.Window != "" {
		fmt.Fprintf(&b, "Window: %s\n", f.Window)
	}
	if f.Kind != "" {
		fmt.Fprintf(&b, "Kind: %s\n", f.Kind)
	}
	fmt.Fprintf(&b, "Run: %s\n", f.RunID)
	if f.Err != nil {
		fmt.Fprintf(&b, "\n%s\n", f.Err.Error())
	}

	_, err := n.sns.Publish(ctx, &sns.PublishInput{
		TopicArn: aws.String(n.topicArn),
		Subject:  aws.String(subject),
		Message:  aws.String(b.String()),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"tenant": {DataType: aws.String("String"), StringValue: aws.String(f.Tenant)},
			"domain": {DataType: aws.String("String"), StringValue: aws.String(f.Domain)},
		},
	})
	if err != nil {
		return fmt.Errorf("sns publish: %w", err)
	}
	return nil
}
