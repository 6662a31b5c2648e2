package mock

import (
	"bytes"
	"errors"
	"io/ioutil"

	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/sns"

	"github.com/m-mizutani/iocdb/pkg/adaptor"
)

// S3Client serves objects from memory, keyed by bucket and key.
type S3Client struct {
	Region  string
	Objects map[string][]byte // "bucket/key" -> body
}

func NewS3Mock() (adaptor.S3ClientFactory, *S3Client) {
	client := &S3Client{
		Objects: make(map[string][]byte),
	}
	return func(region string) (adaptor.S3Client, error) {
		client.Region = region
		return client, nil
	}, client
}

func (x *S3Client) GetObject(input *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
	body, ok := x.Objects[*input.Bucket+"/"+*input.Key]
	if !ok {
		return nil, errors.New(s3.ErrCodeNoSuchKey)
	}

	return &s3.GetObjectOutput{
		Body: ioutil.NopCloser(bytes.NewReader(body)),
	}, nil
}

// SNSClient records published messages.
type SNSClient struct {
	Region string
	Inputs []*sns.PublishInput
}

func NewSNSMock() (adaptor.SNSClientFactory, *SNSClient) {
	client := &SNSClient{}
	return func(region string) (adaptor.SNSClient, error) {
		client.Region = region
		return client, nil
	}, client
}

func (x *SNSClient) Publish(input *sns.PublishInput) (*sns.PublishOutput, error) {
	x.Inputs = append(x.Inputs, input)
	return &sns.PublishOutput{}, nil
}
