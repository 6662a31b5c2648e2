package service_test

import (
	"io/ioutil"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/mock"
	"github.com/m-mizutani/iocdb/pkg/service"
)

func testIndicator(severity iocdb.Severity) *iocdb.Indicator {
	now := time.Now().UTC()
	return &iocdb.Indicator{
		ID:          "test-id",
		Type:        iocdb.TypeDomain,
		Value:       "evil.example.com",
		Severity:    severity,
		Confidence:  80,
		ThreatScore: 90,
		TLP:         iocdb.TLPAmber,
		FirstSeen:   now,
		LastSeen:    now,
		Tags:        []string{"c2", "phishing"},
		SourceIDs:   []string{"feed-a"},
	}
}

func TestAlertThreshold(t *testing.T) {
	alertSvc := service.NewAlertService(&service.AlertServiceArguments{})

	assert.False(t, alertSvc.ShouldAlert(testIndicator(iocdb.SeverityUnknown)))
	assert.False(t, alertSvc.ShouldAlert(testIndicator(iocdb.SeverityLow)))
	assert.False(t, alertSvc.ShouldAlert(testIndicator(iocdb.SeverityMedium)))
	assert.True(t, alertSvc.ShouldAlert(testIndicator(iocdb.SeverityHigh)))
	assert.True(t, alertSvc.ShouldAlert(testIndicator(iocdb.SeverityCritical)))
}

func TestAlertEmitToSlack(t *testing.T) {
	httpClient := &mock.HTTPClient{RespCode: http.StatusOK}
	alertSvc := service.NewAlertService(&service.AlertServiceArguments{
		SlackIncomingWebhookURL: "https://hooks.slack.com/services/TXXX/BXXX/XXXX",
		HTTPClient:              httpClient,
	})

	require.NoError(t, alertSvc.EmitToSlack(testIndicator(iocdb.SeverityCritical)))
	require.Len(t, httpClient.Requests, 1)

	req := httpClient.Requests[0]
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "hooks.slack.com", req.URL.Host)

	body, err := ioutil.ReadAll(req.Body)
	require.NoError(t, err)
	// indicator values are defanged in the message
	assert.Contains(t, string(body), "evil[.]example[.]com")
	assert.NotContains(t, string(body), "evil.example.com")
}

func TestAlertRequiresConfiguration(t *testing.T) {
	alertSvc := service.NewAlertService(&service.AlertServiceArguments{
		HTTPClient: &mock.HTTPClient{RespCode: http.StatusOK},
	})
	assert.Error(t, alertSvc.EmitToSlack(testIndicator(iocdb.SeverityHigh)))

	alertSvc = service.NewAlertService(&service.AlertServiceArguments{
		SlackIncomingWebhookURL: "https://hooks.slack.com/services/TXXX/BXXX/XXXX",
	})
	assert.Error(t, alertSvc.EmitToSlack(testIndicator(iocdb.SeverityHigh)))
}

func TestAlertSlackIntegration(t *testing.T) {
	url, ok := os.LookupEnv("TEST_SLACK_WEBHOOK_URL")
	if !ok {
		t.Skip("TEST_SLACK_WEBHOOK_URL is not set")
	}

	alertSvc := service.NewAlertService(&service.AlertServiceArguments{
		SlackIncomingWebhookURL: url,
		HTTPClient:              &http.Client{},
	})
	require.NoError(t, alertSvc.EmitToSlack(testIndicator(iocdb.SeverityCritical)))
}
