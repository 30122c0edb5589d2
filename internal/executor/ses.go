package executor

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"

	"github.com/leadflowhq/outreach/internal/domain"
)

// SESSender delivers mail through the SES v2 API using each account's own
// static credentials. Clients are cached per account id.
type SESSender struct {
	mu      sync.Mutex
	clients map[string]*sesv2.Client
}

func NewSESSender() *SESSender {
	return &SESSender{clients: make(map[string]*sesv2.Client)}
}

func (s *SESSender) client(ctx context.Context, account *domain.SendingAccount) (*sesv2.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.clients[account.ID]; ok {
		return c, nil
	}

	creds := credentials.NewStaticCredentialsProvider(
		account.AWSAccessKey,
		account.AWSSecretKey,
		"",
	)
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(account.AWSRegion),
		awsconfig.WithCredentialsProvider(creds),
	)
	if err != nil {
		return nil, err
	}
	c := sesv2.NewFromConfig(awsCfg)
	s.clients[account.ID] = c
	return c, nil
}

func (s *SESSender) Send(ctx context.Context, account *domain.SendingAccount, msg *domain.OutboundMessage) domain.DispatchResult {
	client, err := s.client(ctx, account)
	if err != nil {
		return domain.DispatchResult{Error: err.Error()}
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(account.FromEmail),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject)},
				Body: &types.Body{
					Text: &types.Content{Data: aws.String(msg.ContentText)},
					Html: &types.Content{Data: aws.String(msg.ContentHTML)},
				},
			},
		},
	}

	out, err := client.SendEmail(ctx, input)
	if err != nil {
		return domain.DispatchResult{
			Error:     err.Error(),
			Transient: isTransientSES(err),
		}
	}
	return domain.DispatchResult{
		OK:        true,
		MessageID: aws.ToString(out.MessageId),
		SentAt:    time.Now(),
	}
}

// isTransientSES classifies SES API errors. Throttling and 5xx trouble are
// retryable; rejected content and bad addresses are not.
func isTransientSES(err error) bool {
	msg := err.Error()
	for _, token := range []string{"Throttling", "TooManyRequests", "ServiceUnavailable", "InternalFailure", "timeout"} {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
