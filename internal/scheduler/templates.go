package scheduler

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"coco/internal/store"
	"coco/internal/tools"
)

// RateLimitedOutput is the execution output of a template that short-circuited
// on an exhausted service quota. The run still counts as ok.
const RateLimitedOutput = "rate-limited, skipped"

// Summarizer produces digest text from raw material. Optional; templates
// fall back to clipped raw text without one.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Env is everything a template invocation may touch.
type Env struct {
	Registry   *tools.Registry
	Persist    *store.LocalStore
	Limiter    *Limiter
	Outbox     *Outbox
	Summarizer Summarizer
	Origin     string // task name, for outbox attribution
	Now        func() time.Time
}

// TemplateFunc runs one template invocation and returns its output summary.
type TemplateFunc func(ctx context.Context, env *Env, cfg map[string]any) (string, error)

// Templates is the named template catalog.
var Templates = map[string]TemplateFunc{
	"simple_email":   runSimpleEmail,
	"calendar_email": runCalendarEmail,
	"news_digest":    runNewsDigest,
	"health_check":   runHealthCheck,
	"web_research":   runWebResearch,
	"meeting_prep":   runMeetingPrep,
	"weekly_report":  runWeeklyReport,
	"video_message":  runVideoMessage,
	"tweet_post":     runTweetPost,
	"tweet_thread":   runTweetThread,
	"tweet_reply":    runTweetReply,
}

// TemplateNames lists the catalog in stable order.
func TemplateNames() []string {
	names := make([]string, 0, len(Templates))
	for name := range Templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// call dispatches one tool on behalf of a template. Requires-approval tools
// are deferred to the outbox instead; deferred reports which path was taken
// so callers only consume quota for work that actually happened.
func (e *Env) call(ctx context.Context, name string, input map[string]any) (output string, deferred bool, err error) {
	tool := e.Registry.Get(name)
	if tool == nil {
		return "", false, fmt.Errorf("%w: %s", tools.ErrUnknownTool, name)
	}
	if tool.RequiresApproval && e.Outbox != nil {
		id, err := e.Outbox.Defer(name, input, e.Origin)
		if err != nil {
			return "", false, err
		}
		return fmt.Sprintf("%s queued for approval (%s)", name, id[:8]), true, nil
	}
	res := e.Registry.Dispatch(ctx, name, input)
	if !res.OK {
		return "", false, fmt.Errorf("%s: %s", name, res.ErrorMessage)
	}
	return res.Value, false, nil
}

// digest compresses raw material through the summarizer, falling back to a
// clipped head of the raw text.
func (e *Env) digest(ctx context.Context, instruction, raw string) string {
	if e.Summarizer != nil {
		out, err := e.Summarizer.Summarize(ctx, instruction+"\n\n"+raw)
		if err == nil && out != "" {
			return out
		}
	}
	if len(raw) > 2000 {
		return raw[:2000] + "..."
	}
	return raw
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func cfgString(cfg map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := cfg[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func cfgStrings(cfg map[string]any, key string) []string {
	switch v := cfg[key].(type) {
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}

func cfgInt(cfg map[string]any, key string, fallback int) int {
	switch v := cfg[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}

// sendEmails delivers one message to each recipient under the email quota.
func sendEmails(ctx context.Context, env *Env, recipients []string, subject, body string) (string, error) {
	var lines []string
	for _, to := range recipients {
		if !env.Limiter.Allow(ServiceEmail) {
			lines = append(lines, RateLimitedOutput)
			break
		}
		out, deferred, err := env.call(ctx, "send_email", map[string]any{
			"to": to, "subject": subject, "body": body,
		})
		if err != nil {
			return strings.Join(lines, "\n"), err
		}
		if !deferred {
			env.Limiter.Consume(ServiceEmail)
		}
		lines = append(lines, out)
	}
	return strings.Join(lines, "\n"), nil
}

func runSimpleEmail(ctx context.Context, env *Env, cfg map[string]any) (string, error) {
	recipients := cfgStrings(cfg, "recipients")
	if len(recipients) == 0 {
		if to := cfgString(cfg, "to"); to != "" {
			recipients = []string{to}
		}
	}
	subject := cfgString(cfg, "subject")
	body := cfgString(cfg, "body")
	if len(recipients) == 0 || subject == "" {
		return "", fmt.Errorf("%w: simple_email needs recipients and subject", tools.ErrInvalidInput)
	}
	if !env.Limiter.Allow(ServiceEmail) {
		return RateLimitedOutput, nil
	}
	return sendEmails(ctx, env, recipients, subject, body)
}

func runCalendarEmail(ctx context.Context, env *Env, cfg map[string]any) (string, error) {
	recipients := cfgStrings(cfg, "recipients")
	if len(recipients) == 0 {
		return "", fmt.Errorf("%w: calendar_email needs recipients", tools.ErrInvalidInput)
	}
	if !env.Limiter.Allow(ServiceEmail) {
		return RateLimitedOutput, nil
	}
	days := cfgInt(cfg, "days", 1)
	listing, _, err := env.call(ctx, "calendar_list_events", map[string]any{"days": float64(days)})
	if err != nil {
		return "", err
	}
	subject := fmt.Sprintf("Your schedule: next %d day(s)", days)
	return sendEmails(ctx, env, recipients, subject, listing)
}

func runNewsDigest(ctx context.Context, env *Env, cfg map[string]any) (string, error) {
	topics := cfgStrings(cfg, "topics")
	recipients := cfgStrings(cfg, "recipients")
	if len(topics) == 0 {
		return "", fmt.Errorf("%w: news_digest needs topics", tools.ErrInvalidInput)
	}
	if len(recipients) > 0 && !env.Limiter.Allow(ServiceEmail) {
		return RateLimitedOutput, nil
	}

	var raw strings.Builder
	for i, topic := range topics {
		if i >= 3 {
			break
		}
		if !env.Limiter.Allow(ServiceSearch) {
			return RateLimitedOutput, nil
		}
		results, _, err := env.call(ctx, "search_web", map[string]any{
			"query": topic + " news", "max_results": float64(5),
		})
		if err != nil {
			return "", err
		}
		env.Limiter.Consume(ServiceSearch)
		fmt.Fprintf(&raw, "# %s\n%s\n\n", topic, results)
	}

	digest := env.digest(ctx, "Write a short morning news digest from these search results.", raw.String())
	if len(recipients) == 0 {
		return digest, nil
	}
	subject := "News digest: " + strings.Join(topics, ", ")
	return sendEmails(ctx, env, recipients, subject, digest)
}

func runHealthCheck(ctx context.Context, env *Env, cfg map[string]any) (string, error) {
	var report strings.Builder
	fmt.Fprintf(&report, "COCO health check %s\n", env.now().Format(time.RFC3339))

	if stats, err := env.Persist.Stats(); err != nil {
		fmt.Fprintf(&report, "facts store: ERROR %v\n", err)
	} else {
		fmt.Fprintf(&report, "facts: %d\n", stats.Total)
	}
	if n, err := env.Persist.ExchangeCount(); err == nil {
		fmt.Fprintf(&report, "exchanges: %d\n", n)
	}
	if n, err := env.Persist.SemanticCount(); err == nil {
		fmt.Fprintf(&report, "semantic entries: %d\n", n)
	}
	for service, left := range env.Limiter.Snapshot() {
		fmt.Fprintf(&report, "quota %s: %d left\n", service, left)
	}

	recipients := cfgStrings(cfg, "recipients")
	if len(recipients) == 0 {
		return report.String(), nil
	}
	if !env.Limiter.Allow(ServiceEmail) {
		return RateLimitedOutput, nil
	}
	return sendEmails(ctx, env, recipients, "COCO health check", report.String())
}

func runWebResearch(ctx context.Context, env *Env, cfg map[string]any) (string, error) {
	query := cfgString(cfg, "query", "topic")
	if query == "" {
		return "", fmt.Errorf("%w: web_research needs a query", tools.ErrInvalidInput)
	}
	if !env.Limiter.Allow(ServiceSearch) {
		return RateLimitedOutput, nil
	}
	results, _, err := env.call(ctx, "search_web", map[string]any{
		"query": query, "max_results": float64(8),
	})
	if err != nil {
		return "", err
	}
	env.Limiter.Consume(ServiceSearch)

	brief := env.digest(ctx, "Write a research brief answering: "+query, results)
	doc, _, err := env.call(ctx, "create_document", map[string]any{
		"title": "Research: " + query, "content": brief,
	})
	if err != nil {
		return "", err
	}
	return doc + "\n" + brief, nil
}

func runMeetingPrep(ctx context.Context, env *Env, cfg map[string]any) (string, error) {
	listing, _, err := env.call(ctx, "calendar_list_events", map[string]any{"days": float64(1)})
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(listing, "No events") {
		return "no upcoming meetings", nil
	}
	brief := env.digest(ctx,
		"Prepare short briefing notes for these upcoming meetings: likely agenda, questions to ask.",
		listing)
	doc, _, err := env.call(ctx, "create_document", map[string]any{
		"title": "Meeting prep " + env.now().Format("2006-01-02"), "content": brief,
	})
	if err != nil {
		return "", err
	}
	return doc + "\n" + brief, nil
}

func runWeeklyReport(ctx context.Context, env *Env, cfg map[string]any) (string, error) {
	exchanges, err := env.Persist.RecentExchanges(100)
	if err != nil {
		return "", err
	}
	cutoff := env.now().AddDate(0, 0, -7)
	var raw strings.Builder
	for _, ex := range exchanges {
		if ex.CreatedAt.Before(cutoff) {
			continue
		}
		fmt.Fprintf(&raw, "[%s] %s -> %s\n", ex.CreatedAt.Format("Mon"), ex.UserText, ex.AgentText)
	}
	if raw.Len() == 0 {
		return "nothing happened this week", nil
	}

	report := env.digest(ctx, "Write a weekly activity report from this conversation log.", raw.String())
	doc, _, err := env.call(ctx, "create_document", map[string]any{
		"title": "Weekly report " + env.now().Format("2006-01-02"), "content": report,
	})
	if err != nil {
		return "", err
	}

	recipients := cfgStrings(cfg, "recipients")
	if len(recipients) == 0 {
		return doc, nil
	}
	if !env.Limiter.Allow(ServiceEmail) {
		return doc + "\n" + RateLimitedOutput, nil
	}
	sent, err := sendEmails(ctx, env, recipients, "Weekly report", report)
	if err != nil {
		return doc, err
	}
	return doc + "\n" + sent, nil
}

func runVideoMessage(ctx context.Context, env *Env, cfg map[string]any) (string, error) {
	prompt := cfgString(cfg, "prompt")
	if prompt == "" {
		return "", fmt.Errorf("%w: video_message needs a prompt", tools.ErrInvalidInput)
	}
	if !env.Limiter.Allow(ServiceMedia) {
		return RateLimitedOutput, nil
	}
	video, _, err := env.call(ctx, "generate_video", map[string]any{"prompt": prompt})
	if err != nil {
		return "", err
	}
	env.Limiter.Consume(ServiceMedia)

	recipients := cfgStrings(cfg, "recipients")
	if len(recipients) == 0 {
		return video, nil
	}
	if !env.Limiter.Allow(ServiceEmail) {
		return video + "\n" + RateLimitedOutput, nil
	}
	sent, err := sendEmails(ctx, env, recipients, "A video message from COCO", video)
	if err != nil {
		return video, err
	}
	return video + "\n" + sent, nil
}

func runTweetPost(ctx context.Context, env *Env, cfg map[string]any) (string, error) {
	text := cfgString(cfg, "text")
	if text == "" {
		return "", fmt.Errorf("%w: tweet_post needs text", tools.ErrInvalidInput)
	}
	if !env.Limiter.Allow(ServiceTwitter) {
		return RateLimitedOutput, nil
	}
	out, deferred, err := env.call(ctx, "post_tweet", map[string]any{"text": text})
	if err != nil {
		return "", err
	}
	if !deferred {
		env.Limiter.Consume(ServiceTwitter)
	}
	return out, nil
}

var tweetIDPattern = regexp.MustCompile(`id (\w+)`)

func runTweetThread(ctx context.Context, env *Env, cfg map[string]any) (string, error) {
	texts := cfgStrings(cfg, "texts")
	if len(texts) == 0 {
		return "", fmt.Errorf("%w: tweet_thread needs texts", tools.ErrInvalidInput)
	}

	var lines []string
	replyTo := ""
	for _, text := range texts {
		if !env.Limiter.Allow(ServiceTwitter) {
			lines = append(lines, RateLimitedOutput)
			break
		}
		input := map[string]any{"text": text}
		if replyTo != "" {
			input["reply_to_id"] = replyTo
		}
		out, deferred, err := env.call(ctx, "post_tweet", input)
		if err != nil {
			return strings.Join(lines, "\n"), err
		}
		lines = append(lines, out)
		if deferred {
			// Queued posts cannot chain; the rest of the thread is queued
			// standalone.
			replyTo = ""
			continue
		}
		env.Limiter.Consume(ServiceTwitter)
		if m := tweetIDPattern.FindStringSubmatch(out); m != nil {
			replyTo = m[1]
		}
	}
	return strings.Join(lines, "\n"), nil
}

func runTweetReply(ctx context.Context, env *Env, cfg map[string]any) (string, error) {
	text := cfgString(cfg, "text")
	replyTo := cfgString(cfg, "reply_to_id")
	if text == "" || replyTo == "" {
		return "", fmt.Errorf("%w: tweet_reply needs text and reply_to_id", tools.ErrInvalidInput)
	}
	if !env.Limiter.Allow(ServiceTwitter) {
		return RateLimitedOutput, nil
	}
	out, deferred, err := env.call(ctx, "post_tweet", map[string]any{
		"text": text, "reply_to_id": replyTo,
	})
	if err != nil {
		return "", err
	}
	if !deferred {
		env.Limiter.Consume(ServiceTwitter)
	}
	return out, nil
}
