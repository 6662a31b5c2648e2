package service

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/hashicorp/go-multierror"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/adaptor"
	"github.com/m-mizutani/iocdb/pkg/errors"
	"github.com/m-mizutani/iocdb/pkg/logging"
)

// ImportService bulk-loads indicators from feed dumps, either local streams
// or S3 objects. Each line is one record; a malformed line is counted and
// skipped instead of aborting the batch.
type ImportService struct {
	newS3      adaptor.S3ClientFactory
	indicators *IndicatorService
}

func NewImportService(newS3 adaptor.S3ClientFactory, indicators *IndicatorService) *ImportService {
	return &ImportService{
		newS3:      newS3,
		indicators: indicators,
	}
}

// importLine is one JSONL record. A line that is not a JSON object is treated
// as a bare indicator value.
type importLine struct {
	Value          string         `json:"value"`
	Type           iocdb.IOCType  `json:"type,omitempty"`
	Severity       iocdb.Severity `json:"severity,omitempty"`
	Confidence     *int           `json:"confidence,omitempty"`
	ThreatScore    *int           `json:"threat_score,omitempty"`
	TLP            iocdb.TLP      `json:"tlp,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	ExpirationDays *int           `json:"expiration_days,omitempty"`
}

// ImportSummary reports one batch. Line-level failures are collected here
// rather than returned as the batch error.
type ImportSummary struct {
	Lines    int `json:"lines"`
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Failed   int `json:"failed"`
	failures error
}

// Err returns the accumulated line-level failures, nil if every line landed.
func (x *ImportSummary) Err() error {
	return x.failures
}

// ImportReader upserts one indicator per line of r, attributing each to
// sourceID. Blank lines and '#' comments are ignored.
func (x *ImportService) ImportReader(r io.Reader, sourceID string) (*ImportSummary, error) {
	summary := &ImportSummary{}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		summary.Lines++

		input, err := parseImportLine(line, sourceID)
		if err == nil {
			_, created, upsertErr := x.indicators.Upsert(input)
			if upsertErr == nil {
				if created {
					summary.Created++
				} else {
					summary.Updated++
				}
				continue
			}
			err = upsertErr
		}

		summary.Failed++
		summary.failures = multierror.Append(summary.failures, err)
		logging.Logger.Warn().Err(err).Str("line", line).Msg("Skipped import line")
	}
	if err := scanner.Err(); err != nil {
		return summary, errors.Wrap(err, "read import stream")
	}

	return summary, nil
}

func parseImportLine(line, sourceID string) (*UpsertInput, error) {
	rec := &importLine{}
	if strings.HasPrefix(line, "{") {
		if err := json.Unmarshal([]byte(line), rec); err != nil {
			return nil, errors.Wrap(err, "parse import record").Kind(errors.KindInvalidValue)
		}
	} else {
		rec.Value = line
	}
	if rec.Value == "" {
		return nil, errors.New("import record has no value").Kind(errors.KindInvalidValue)
	}
	if rec.Severity == "" && rec.ThreatScore != nil {
		rec.Severity = iocdb.SeverityFromScore(*rec.ThreatScore)
	}

	return &UpsertInput{
		Value:          rec.Value,
		Type:           rec.Type,
		Severity:       rec.Severity,
		Confidence:     rec.Confidence,
		ThreatScore:    rec.ThreatScore,
		TLP:            rec.TLP,
		Tags:           rec.Tags,
		SourceID:       sourceID,
		ExpirationDays: rec.ExpirationDays,
	}, nil
}

// ImportS3Object fetches the object and imports it, transparently unpacking
// gzip based on the object's content encoding or a .gz key suffix.
func (x *ImportService) ImportS3Object(region, bucket, key, sourceID string) (*ImportSummary, error) {
	client, err := x.newS3(region)
	if err != nil {
		return nil, err
	}

	input := &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	}
	output, err := client.GetObject(input)
	if err != nil {
		return nil, errors.Wrap(err, "Failed GetObject").With("input", input)
	}
	defer output.Body.Close()

	var body io.Reader = output.Body
	if aws.StringValue(output.ContentEncoding) == "gzip" || strings.HasSuffix(key, ".gz") {
		gz, err := gzip.NewReader(output.Body)
		if err != nil {
			return nil, errors.Wrap(err, "open gzip stream").
				With("bucket", bucket).
				With("key", key)
		}
		defer gz.Close()
		body = gz
	}

	summary, err := x.ImportReader(body, sourceID)
	if err != nil {
		return summary, err
	}

	logging.Logger.Info().
		Str("bucket", bucket).
		Str("key", key).
		Int("lines", summary.Lines).
		Int("created", summary.Created).
		Int("updated", summary.Updated).
		Int("failed", summary.Failed).
		Msg("Imported S3 object")
	return summary, nil
}
