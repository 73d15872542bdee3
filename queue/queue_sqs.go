package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
)

// SQSMaxBatch is the hard per-request ceiling SQS imposes on ReceiveMessage
// and DeleteMessageBatch.
const SQSMaxBatch = 10

const backendSQS = "sqs"

type SQSConfig struct {
	// QueueURL skips the GetQueueUrl lookup when set.
	QueueURL string

	WaitTimeSeconds int32
	// VisibilityTO is the lease duration requested on receive and used as the
	// queue default on CreateQueue. Zero keeps the queue's own setting.
	VisibilityTO int32
}

func (c *SQSConfig) validate() {
	if c.WaitTimeSeconds < 0 || c.WaitTimeSeconds > 20 {
		panic("wait time seconds must be between 0 and 20")
	}
	if c.VisibilityTO < 0 || c.VisibilityTO > 43200 {
		panic("visibility timeout must be between 0 and 43200")
	}
}

var DefaultSQSConfig = SQSConfig{
	WaitTimeSeconds: 1,
	VisibilityTO:    300,
}

type sqsAPI interface {
	CreateQueue(ctx context.Context, params *sqs.CreateQueueInput, optFns ...func(*sqs.Options)) (*sqs.CreateQueueOutput, error)
	GetQueueUrl(ctx context.Context, params *sqs.GetQueueUrlInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueUrlOutput, error)
	GetQueueAttributes(ctx context.Context, params *sqs.GetQueueAttributesInput, optFns ...func(*sqs.Options)) (*sqs.GetQueueAttributesOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	DeleteMessageBatch(ctx context.Context, params *sqs.DeleteMessageBatchInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageBatchOutput, error)
}

// SQS is a managed-cloud queue backend. It supports bulk claim and delete up
// to SQSMaxBatch items per request.
type SQS struct {
	cfg    SQSConfig
	client sqsAPI
	name   string

	mu       sync.Mutex
	queueURL string
}

func NewSQS(client sqsAPI, queueName string, cfg SQSConfig) *SQS {
	if client == nil {
		panic("sqs client is required")
	}
	if strings.TrimSpace(queueName) == "" {
		panic("queue name is required")
	}
	cfg.validate()

	return &SQS{
		cfg:      cfg,
		client:   client,
		name:     queueName,
		queueURL: cfg.QueueURL,
	}
}

func (s *SQS) Name() string  { return s.name }
func (s *SQS) MaxBatch() int { return SQSMaxBatch }

// CreateQueue is idempotent: SQS returns the existing URL when a queue with
// the same name and attributes already exists.
func (s *SQS) CreateQueue(ctx context.Context) error {
	in := &sqs.CreateQueueInput{QueueName: aws.String(s.name)}
	if s.cfg.VisibilityTO > 0 {
		in.Attributes = map[string]string{
			string(sqstypes.QueueAttributeNameVisibilityTimeout): strconv.Itoa(int(s.cfg.VisibilityTO)),
		}
	}
	out, err := s.client.CreateQueue(ctx, in)
	if err != nil {
		return backendError(err, backendSQS, s.name, "create queue")
	}

	s.mu.Lock()
	s.queueURL = aws.ToString(out.QueueUrl)
	s.mu.Unlock()
	return nil
}

func (s *SQS) url(ctx context.Context) (*string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.queueURL != "" {
		u := s.queueURL
		return &u, nil
	}
	out, err := s.client.GetQueueUrl(ctx, &sqs.GetQueueUrlInput{QueueName: aws.String(s.name)})
	if err != nil {
		return nil, backendError(err, backendSQS, s.name, "resolve queue url")
	}
	s.queueURL = aws.ToString(out.QueueUrl)
	if s.queueURL == "" {
		return nil, backendError(ErrNotProvisioned, backendSQS, s.name, "resolve queue url")
	}
	u := s.queueURL
	return &u, nil
}

func (s *SQS) Enqueue(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return invalidInput(backendSQS, s.name, fmt.Sprintf("encode payload: %v", err))
	}
	u, err := s.url(ctx)
	if err != nil {
		return err
	}
	_, err = s.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    u,
		MessageBody: aws.String(string(body)),
	})
	return backendError(err, backendSQS, s.name, "send message")
}

func (s *SQS) ClaimOne(ctx context.Context) (Item, bool, error) {
	items, err := s.receive(ctx, 1)
	if err != nil || len(items) == 0 {
		return Item{}, false, err
	}
	return items[0], true, nil
}

func (s *SQS) ClaimMany(ctx context.Context, max int) ([]Item, error) {
	if max > SQSMaxBatch {
		max = SQSMaxBatch
	}
	if max < 1 {
		return nil, nil
	}
	return s.receive(ctx, int32(max))
}

func (s *SQS) receive(ctx context.Context, max int32) ([]Item, error) {
	u, err := s.url(ctx)
	if err != nil {
		return nil, err
	}
	out, err := s.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            u,
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     s.cfg.WaitTimeSeconds,
		VisibilityTimeout:   s.cfg.VisibilityTO,
	})
	if err != nil {
		return nil, backendError(err, backendSQS, s.name, "receive message")
	}

	items := make([]Item, 0, len(out.Messages))
	for i := range out.Messages {
		m := &out.Messages[i]
		items = append(items, Item{
			ID:      aws.ToString(m.MessageId),
			Handle:  aws.ToString(m.ReceiptHandle),
			Payload: decodeBody(aws.ToString(m.Body)),
		})
	}
	return items, nil
}

func (s *SQS) DeleteOne(ctx context.Context, item Item) error {
	u, err := s.url(ctx)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      u,
		ReceiptHandle: aws.String(item.Handle),
	})
	return backendError(err, backendSQS, s.name, "delete message")
}

// DeleteMany deletes in chunks of SQSMaxBatch. It stops at the first chunk
// that fails or reports failed entries; earlier chunks stay deleted.
func (s *SQS) DeleteMany(ctx context.Context, items []Item) error {
	if len(items) == 0 {
		return nil
	}
	u, err := s.url(ctx)
	if err != nil {
		return err
	}

	entries := make([]sqstypes.DeleteMessageBatchRequestEntry, 0, SQSMaxBatch)
	in := sqs.DeleteMessageBatchInput{QueueUrl: u}

	return chunkBounds(len(items), SQSMaxBatch, func(start, end int) error {
		entries = entries[:0]
		var ids [SQSMaxBatch]string
		var rhs [SQSMaxBatch]string

		for j := start; j < end; j++ {
			k := j - start
			ids[k] = strconv.Itoa(k)
			rhs[k] = items[j].Handle
			entries = append(entries, sqstypes.DeleteMessageBatchRequestEntry{Id: &ids[k], ReceiptHandle: &rhs[k]})
		}

		in.Entries = entries
		out, err := s.client.DeleteMessageBatch(ctx, &in)
		if err != nil {
			return backendError(err, backendSQS, s.name, "delete message batch")
		}
		if len(out.Failed) > 0 {
			f := out.Failed[0]
			return backendError(fmt.Errorf("sqs delete failed id=%s code=%s message=%s",
				aws.ToString(f.Id), aws.ToString(f.Code), aws.ToString(f.Message)),
				backendSQS, s.name, "delete message batch")
		}
		return nil
	})
}

// Count sums visible and in-flight messages. Both attributes are approximate.
func (s *SQS) Count(ctx context.Context) (int64, error) {
	u, err := s.url(ctx)
	if err != nil {
		return 0, err
	}
	out, err := s.client.GetQueueAttributes(ctx, &sqs.GetQueueAttributesInput{
		QueueUrl: u,
		AttributeNames: []sqstypes.QueueAttributeName{
			sqstypes.QueueAttributeNameApproximateNumberOfMessages,
			sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
		},
	})
	if err != nil {
		return 0, backendError(err, backendSQS, s.name, "get queue attributes")
	}

	var total int64
	for _, name := range []sqstypes.QueueAttributeName{
		sqstypes.QueueAttributeNameApproximateNumberOfMessages,
		sqstypes.QueueAttributeNameApproximateNumberOfMessagesNotVisible,
	} {
		raw, ok := out.Attributes[string(name)]
		if !ok || raw == "" {
			continue
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return 0, backendError(fmt.Errorf("attribute %s=%q: %w", name, raw, err), backendSQS, s.name, "get queue attributes")
		}
		total += n
	}
	return total, nil
}

// decodeBody returns nil for bodies that are not a JSON object; the claimer
// discards such items.
func decodeBody(body string) Payload {
	if strings.TrimSpace(body) == "" {
		return nil
	}
	var p Payload
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return nil
	}
	return p
}

var _ BulkBackend = (*SQS)(nil)
