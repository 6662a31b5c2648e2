package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"strconv"
	"strings"

	"github.com/slack-go/slack"

	"github.com/m-mizutani/iocdb"
	"github.com/m-mizutani/iocdb/pkg/adaptor"
	"github.com/m-mizutani/iocdb/pkg/errors"
)

type AlertServiceArguments struct {
	SlackIncomingWebhookURL string
	HTTPClient              adaptor.HTTPClient
}

// AlertService notifies Slack when a high or critical indicator lands in the
// catalog.
type AlertService struct {
	args *AlertServiceArguments
}

func NewAlertService(args *AlertServiceArguments) *AlertService {
	return &AlertService{
		args: args,
	}
}

// Enabled reports whether an incoming webhook is configured.
func (x *AlertService) Enabled() bool {
	return x.args.SlackIncomingWebhookURL != ""
}

// ShouldAlert reports whether the indicator's severity warrants notification.
func (x *AlertService) ShouldAlert(ind *iocdb.Indicator) bool {
	return ind.Severity.Rank() >= iocdb.SeverityHigh.Rank()
}

// defang breaks dots so pasted indicator values are not clickable.
func defang(value string) string {
	return strings.Replace(value, ".", "[.]", -1)
}

// Up to 3 tags and sources in one slack message
const maxItemDisplaySlack = 3

func joinCapped(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	if len(items) > maxItemDisplaySlack {
		return strings.Join(items[:maxItemDisplaySlack], ", ") + ", ..."
	}
	return strings.Join(items, ", ")
}

// EmitToSlack posts the indicator to the configured incoming webhook.
func (x *AlertService) EmitToSlack(ind *iocdb.Indicator) error {
	if x.args.HTTPClient == nil {
		return errors.New("HTTPClient is required in AlertServiceArguments to emit Slack, but not set")
	}
	if x.args.SlackIncomingWebhookURL == "" {
		return errors.New("SlackIncomingWebhookURL is required in AlertServiceArguments to emit Slack, but not set")
	}

	newField := func(title, value string) *slack.TextBlockObject {
		return slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("*%s*\n%s", title, value), false, false)
	}

	title := fmt.Sprintf(":rotating_light: %s indicator: %s (%s)",
		ind.Severity, defang(ind.Value), ind.Type)
	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", title, true, false)),
		slack.NewDividerBlock(),
		slack.NewSectionBlock(nil, []*slack.TextBlockObject{
			newField("Severity", string(ind.Severity)),
			newField("Confidence", strconv.Itoa(ind.Confidence)),
			newField("ThreatScore", strconv.Itoa(ind.ThreatScore)),
			newField("TLP", string(ind.TLP)),
			newField("FirstSeen", ind.FirstSeen.Format("2006-01-02 15:04:05")),
			newField("LastSeen", ind.LastSeen.Format("2006-01-02 15:04:05")),
			newField("Tags", joinCapped(ind.Tags)),
			newField("Sources", joinCapped(ind.SourceIDs)),
		}, nil),
	}

	msg := slack.NewBlockMessage(blocks...)
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "Failed to marshal slack message").With("msg", msg)
	}

	req, err := http.NewRequest("POST", x.args.SlackIncomingWebhookURL, bytes.NewBuffer(raw))
	if err != nil {
		return errors.Wrap(err, "Failed to create a new HTTP request to Slack")
	}

	resp, err := x.args.HTTPClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "Failed to post message to slack in communication").With("msg", msg)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := ioutil.ReadAll(resp.Body)
		return errors.New("Failed to post message to slack in API").
			With("msg", msg).With("code", resp.StatusCode).With("body", string(body))
	}

	return nil
}
