package notifications

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Harvey-AU/index-inspector/internal/jobs"
	"github.com/rs/zerolog/log"
	"github.com/slack-go/slack"
)

// RunReport is what a notifier announces at the end of a run
type RunReport struct {
	Summary    jobs.Summary
	OutputPath string
	Err        error
}

// Notifier announces the outcome of a run
type Notifier interface {
	Notify(ctx context.Context, report RunReport) error
}

// SlackNotifier posts run reports to a Slack channel
type SlackNotifier struct {
	client    *slack.Client
	channelID string
}

// NewSlackNotifier creates a notifier for channelID. It returns nil when either
// the token or the channel is empty; Notify on a nil notifier does nothing.
func NewSlackNotifier(token, channelID string, options ...slack.Option) *SlackNotifier {
	if token == "" || channelID == "" {
		log.Debug().Msg("Slack notifications disabled: token or channel not configured")
		return nil
	}
	return &SlackNotifier{
		client:    slack.New(token, options...),
		channelID: channelID,
	}
}

// Notify sends the run report to the configured channel
func (n *SlackNotifier) Notify(ctx context.Context, report RunReport) error {
	if n == nil {
		return nil
	}

	title, message := describeRun(report)
	fallbackText := fmt.Sprintf("%s: %s", title, message)

	_, ts, err := n.client.PostMessageContext(
		ctx,
		n.channelID,
		slack.MsgOptionBlocks(buildMessageBlocks(report, title, message)...),
		slack.MsgOptionText(fallbackText, false),
	)
	if err != nil {
		return fmt.Errorf("failed to post run report to Slack: %w", err)
	}

	log.Info().
		Str("run_id", report.Summary.RunID).
		Str("channel_id", n.channelID).
		Str("ts", ts).
		Msg("Slack run report sent")

	return nil
}

func describeRun(report RunReport) (title, message string) {
	s := report.Summary
	switch {
	case report.Err != nil:
		title = "Index inspection failed"
	case s.Cancelled:
		title = "Index inspection interrupted"
	default:
		title = "Index inspection complete"
	}

	message = fmt.Sprintf("%d rows across %d properties in %s (%d cached, %d fetched, %d skipped)",
		s.Rows, s.Groups, formatDuration(s.Duration), s.CacheHits, s.Fetched, s.Skipped)
	if report.Err != nil {
		message = report.Err.Error()
	}
	return title, message
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "N/A"
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func buildMessageBlocks(report RunReport, title, message string) []slack.Block {
	var emoji string
	switch {
	case report.Err != nil:
		emoji = ":x:"
	case report.Summary.Cancelled:
		emoji = ":warning:"
	default:
		emoji = ":white_check_mark:"
	}

	blocks := []slack.Block{
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("%s *%s*", emoji, title), false, false),
			nil,
			nil,
		),
		slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", message, false, false),
			nil,
			nil,
		),
	}

	if report.Summary.Suspensions > 0 || report.Summary.NewUsers > 0 {
		var notes []string
		if report.Summary.Suspensions > 0 {
			notes = append(notes, fmt.Sprintf("%d quota pauses", report.Summary.Suspensions))
		}
		if report.Summary.NewUsers > 0 {
			notes = append(notes, fmt.Sprintf("%d new users added to the ledger", report.Summary.NewUsers))
		}
		blocks = append(blocks, slack.NewSectionBlock(
			slack.NewTextBlockObject("mrkdwn", strings.Join(notes, ", "), false, false),
			nil,
			nil,
		))
	}

	var elements []slack.MixedElement
	if report.Summary.RunID != "" {
		elements = append(elements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Run `%s`", report.Summary.RunID), false, false))
	}
	if report.OutputPath != "" {
		elements = append(elements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Output `%s`", filepath.Base(report.OutputPath)), false, false))
	}
	if len(elements) > 0 {
		blocks = append(blocks, slack.NewContextBlock("", elements...))
	}

	return blocks
}
