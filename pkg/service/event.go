package service

import (
	"encoding/json"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/sns"

	"github.com/m-mizutani/iocdb/pkg/adaptor"
	"github.com/m-mizutani/iocdb/pkg/errors"
	"github.com/m-mizutani/iocdb/pkg/logging"
)

// EventService publishes enrichment requests to an SNS topic so that a worker
// fleet can pick them up asynchronously.
type EventService struct {
	newSNS adaptor.SNSClientFactory
}

func NewEventService(newSNS adaptor.SNSClientFactory) *EventService {
	return &EventService{
		newSNS: newSNS,
	}
}

// EnrichmentRequest asks a worker to run the enrichment fan-out for one
// indicator.
type EnrichmentRequest struct {
	IndicatorID string `json:"indicator_id"`
}

func extractSNSRegion(topicARN string) (string, error) {
	// topicARN sample: arn:aws:sns:us-east-1:111122223333:my-topic
	arnParts := strings.Split(topicARN, ":")

	if len(arnParts) != 6 {
		return "", errors.New("Invalid SNS topic ARN").
			Kind(errors.KindInvalidValue).
			With("ARN", topicARN)
	}

	return arnParts[3], nil
}

func publishSNS(client adaptor.SNSClient, topicARN string, msg interface{}) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "Fail to marshal message").With("msg", msg)
	}

	input := sns.PublishInput{
		TopicArn: aws.String(topicARN),
		Message:  aws.String(string(raw)),
	}
	resp, err := client.Publish(&input)
	if err != nil {
		return errors.Wrap(err, "Fail to publish SNS message").With("input", input)
	}

	logging.Logger.Trace().Interface("resp", resp).Msg("Published SNS message")

	return nil
}

// snsBatchSize bounds one message so a burst of upserts does not exceed the
// SNS payload limit.
const snsBatchSize = 32

// PublishEnrichmentRequests fans indicator IDs out to the topic in batches.
func (x *EventService) PublishEnrichmentRequests(topicARN string, indicatorIDs []string) error {
	region, err := extractSNSRegion(topicARN)
	if err != nil {
		return err
	}

	client, err := x.newSNS(region)
	if err != nil {
		return err
	}

	for i := 0; i < len(indicatorIDs); i += snsBatchSize {
		e := i + snsBatchSize
		if len(indicatorIDs) < e {
			e = len(indicatorIDs)
		}

		batch := make([]*EnrichmentRequest, 0, e-i)
		for _, id := range indicatorIDs[i:e] {
			batch = append(batch, &EnrichmentRequest{IndicatorID: id})
		}
		if err := publishSNS(client, topicARN, batch); err != nil {
			return errors.Wrap(err, "publish enrichment batch").With("batch", batch)
		}
	}

	return nil
}
