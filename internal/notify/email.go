package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"sync"
	"time"

	"gopkg.in/gomail.v2"

	"farm_engine/internal/config"
	"farm_engine/internal/logbus"
)

const defaultSummaryWindow = 5 * time.Second

// EmailNotifier batches finished-task events and mails a summary once the
// queue has been idle for the summary window.
type EmailNotifier struct {
	cfg  config.EmailConfig
	bus  *logbus.Bus
	send func(*gomail.Message) error

	mu     sync.Mutex
	queue  chan TaskFinishedEvent
	ctx    context.Context
	cancel func()
	wg     sync.WaitGroup

	summaryWindow time.Duration
	maxBatch      int
}

func NewEmailNotifier(cfg config.EmailConfig, bus *logbus.Bus) (*EmailNotifier, error) {
	if err := validateEmailConfig(cfg); err != nil {
		return nil, err
	}
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.Port == 465
	return newEmailNotifier(cfg, bus, func(m *gomail.Message) error { return d.DialAndSend(m) }, defaultSummaryWindow), nil
}

func newEmailNotifier(cfg config.EmailConfig, bus *logbus.Bus, send func(*gomail.Message) error, window time.Duration) *EmailNotifier {
	ctx, cancel := context.WithCancel(context.Background())
	n := &EmailNotifier{
		cfg:           cfg,
		bus:           bus,
		send:          send,
		queue:         make(chan TaskFinishedEvent, 200),
		ctx:           ctx,
		cancel:        cancel,
		summaryWindow: window,
		maxBatch:      50,
	}
	n.wg.Add(1)
	go n.loop()
	return n
}

// Close flushes pending events and stops the sender.
func (n *EmailNotifier) Close(ctx context.Context) error {
	n.mu.Lock()
	cancel := n.cancel
	n.cancel = nil
	n.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *EmailNotifier) NotifyTaskFinished(_ context.Context, evt TaskFinishedEvent) {
	select {
	case n.queue <- evt:
	default:
		n.bus.Log("warn", "email notification dropped: queue full", map[string]any{"taskId": evt.TaskID})
	}
}

func (n *EmailNotifier) loop() {
	defer n.wg.Done()

	var (
		pending []TaskFinishedEvent
		timer   *time.Timer
		timerCh <-chan time.Time
	)

	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
		timerCh = nil
	}

	resetTimer := func() {
		if timer == nil {
			timer = time.NewTimer(n.summaryWindow)
			timerCh = timer.C
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(n.summaryWindow)
	}

	flush := func(reason string) {
		if len(pending) == 0 {
			stopTimer()
			return
		}
		events := append([]TaskFinishedEvent(nil), pending...)
		pending = pending[:0]
		stopTimer()
		n.handleBatch(reason, events)
	}

	for {
		select {
		case <-n.ctx.Done():
			for {
				select {
				case evt := <-n.queue:
					pending = append(pending, evt)
					continue
				default:
				}
				break
			}
			flush("shutdown")
			return
		case evt := <-n.queue:
			pending = append(pending, evt)
			if n.maxBatch > 0 && len(pending) >= n.maxBatch {
				flush("max")
				continue
			}
			if n.summaryWindow <= 0 {
				flush("immediate")
				continue
			}
			resetTimer()
		case <-timerCh:
			flush("idle")
		}
	}
}

func (n *EmailNotifier) handleBatch(reason string, events []TaskFinishedEvent) {
	msg, err := n.buildMessage(events)
	if err != nil {
		n.bus.Log("warn", "build notification email failed", map[string]any{"error": err.Error()})
		return
	}
	if err := n.send(msg); err != nil {
		n.bus.Log("warn", "send notification email failed", map[string]any{
			"error":  err.Error(),
			"count":  len(events),
			"reason": reason,
		})
		return
	}
	n.bus.Log("info", "notification email sent", map[string]any{
		"count":  len(events),
		"reason": reason,
		"to":     strings.Join(n.cfg.To, ","),
	})
}

func (n *EmailNotifier) buildMessage(events []TaskFinishedEvent) (*gomail.Message, error) {
	var html bytes.Buffer
	if err := summaryHTMLTpl.Execute(&html, events); err != nil {
		return nil, err
	}
	msg := gomail.NewMessage()
	from := n.cfg.From
	if from == "" {
		from = n.cfg.Username
	}
	msg.SetHeader("From", msg.FormatAddress(from, "farm engine"))
	msg.SetHeader("To", n.cfg.To...)
	msg.SetHeader("Subject", summarySubject(events))
	msg.SetBody("text/plain", summaryText(events))
	msg.AddAlternative("text/html", html.String())
	return msg, nil
}

func validateEmailConfig(c config.EmailConfig) error {
	if strings.TrimSpace(c.Host) == "" || c.Port <= 0 {
		return errors.New("smtp host and port are required")
	}
	if len(c.To) == 0 {
		return errors.New("at least one recipient is required")
	}
	for _, to := range c.To {
		if _, err := mail.ParseAddress(to); err != nil {
			return fmt.Errorf("invalid recipient %q", to)
		}
	}
	return nil
}

func summarySubject(events []TaskFinishedEvent) string {
	if len(events) == 1 {
		e := events[0]
		return fmt.Sprintf("Task %s %s: %d/%d completed", taskLabel(e), e.Status, e.Completed, e.Total)
	}
	return fmt.Sprintf("%d tasks finished", len(events))
}

func summaryText(events []TaskFinishedEvent) string {
	var b strings.Builder
	for _, e := range events {
		fmt.Fprintf(&b, "%s  %s  total=%d completed=%d failed=%d stopped=%d elapsed=%s\n",
			taskLabel(e), e.Status, e.Total, e.Completed, e.Failed, e.Stopped,
			(time.Duration(e.ElapsedMs) * time.Millisecond).String())
		if e.LastError != "" {
			fmt.Fprintf(&b, "  last error: %s\n", e.LastError)
		}
	}
	return b.String()
}

func taskLabel(e TaskFinishedEvent) string {
	if e.TaskName != "" {
		return e.TaskName
	}
	return e.TaskID
}

var summaryHTMLTpl = template.Must(template.New("summary").Parse(`<!doctype html>
<html>
  <body style="font-family:-apple-system,'Segoe UI',Roboto,Arial,sans-serif;background:#f6f8fb;padding:24px;">
    <table cellspacing="0" cellpadding="8" style="background:#fff;border:1px solid #e6e8ef;border-collapse:collapse;">
      <tr style="background:#fafbff;color:#6b7280;font-size:12px;">
        <th>Task</th><th>Status</th><th>Total</th><th>Completed</th><th>Failed</th><th>Stopped</th><th>Last error</th>
      </tr>
      {{ range . }}
      <tr style="font-size:12px;border-top:1px solid #eef0f6;">
        <td>{{ if .TaskName }}{{ .TaskName }}{{ else }}{{ .TaskID }}{{ end }}</td>
        <td>{{ .Status }}</td><td>{{ .Total }}</td><td>{{ .Completed }}</td><td>{{ .Failed }}</td><td>{{ .Stopped }}</td>
        <td>{{ .LastError }}</td>
      </tr>
      {{ end }}
    </table>
  </body>
</html>
`))
