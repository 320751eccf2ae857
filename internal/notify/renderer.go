package notify

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"math"
	"strconv"
	"strings"
	texttemplate "text/template"
	"time"

	"roadmap/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// Template variable keys carried in NotificationMessage.Data.
const (
	DataFirstName         = "first_name"
	DataPlanName          = "plan_name"
	DataOldPlan           = "old_plan"
	DataDaysLeft          = "days_left"
	DataCancelAtPeriodEnd = "cancel_at_period_end"
	DataPeriodEnd         = "period_end"
)

// RenderedEmail holds the pre-rendered email content ready for transmission.
type RenderedEmail struct {
	Subject  string
	BodyHTML string
	BodyText string
}

type templateData struct {
	Subject           string
	AppURL            string
	Year              int
	FirstName         string
	PlanName          string
	OldPlan           string
	DaysLeft          int
	CancelAtPeriodEnd bool
	PeriodEnd         string
}

var subjects = map[types.NotificationKind]string{
	types.NotifyWelcome:             "Welcome to Roadmap!",
	types.NotifySubscriptionCreated: "Subscription to %s Created!",
	types.NotifySubscriptionUpdated: "Subscription Updated",
	types.NotifySubscriptionPaused:  "Your Subscription is Paused",
	types.NotifySubscriptionResumed: "Your Subscription is Active Again!",
	types.NotifySubscriptionCancel:  "Your Subscription has been Canceled",
	types.NotifyTrialEnding:         "Your Trial is Ending Soon!",
	types.NotifyPaymentFailed:       "Payment Failed for Your Subscription",
	types.NotifyPlanChanged:         "Your Plan Changed to %s",
}

// Renderer renders transactional emails from the embedded templates. Each
// HTML template defines a "content" block inside base.html; the text
// templates stand alone.
type Renderer struct {
	htmlTemplates map[types.NotificationKind]*template.Template
	textTemplates map[types.NotificationKind]*texttemplate.Template
	appURL        string
	now           func() time.Time
}

// NewRenderer parses every embedded template. appURL is the frontend origin
// used for call-to-action links.
func NewRenderer(appURL string) (*Renderer, error) {
	r := &Renderer{
		htmlTemplates: make(map[types.NotificationKind]*template.Template, len(types.AllNotificationKinds)),
		textTemplates: make(map[types.NotificationKind]*texttemplate.Template, len(types.AllNotificationKinds)),
		appURL:        strings.TrimRight(appURL, "/"),
		now:           time.Now,
	}

	baseHTML, err := templateFS.ReadFile("templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("renderer: failed to read base.html: %w", err)
	}

	for _, kind := range types.AllNotificationKinds {
		name := string(kind)

		htmlContent, err := templateFS.ReadFile("templates/" + name + ".html")
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to read %s.html: %w", name, err)
		}
		htmlTmpl, err := template.New("base").Parse(string(baseHTML))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to parse base.html: %w", err)
		}
		if _, err := htmlTmpl.Parse(string(htmlContent)); err != nil {
			return nil, fmt.Errorf("renderer: failed to parse %s.html: %w", name, err)
		}
		r.htmlTemplates[kind] = htmlTmpl

		txtContent, err := templateFS.ReadFile("templates/" + name + ".txt")
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to read %s.txt: %w", name, err)
		}
		txtTmpl, err := texttemplate.New(name).Parse(string(txtContent))
		if err != nil {
			return nil, fmt.Errorf("renderer: failed to parse %s.txt: %w", name, err)
		}
		r.textTemplates[kind] = txtTmpl
	}

	return r, nil
}

// Render produces the subject and both bodies for msg.
func (r *Renderer) Render(msg types.NotificationMessage) (*RenderedEmail, error) {
	htmlTmpl, ok := r.htmlTemplates[msg.Kind]
	if !ok {
		return nil, fmt.Errorf("renderer: no HTML template for kind %q", msg.Kind)
	}
	txtTmpl := r.textTemplates[msg.Kind]

	data := r.buildTemplateData(msg)

	var htmlBuf bytes.Buffer
	if err := htmlTmpl.Execute(&htmlBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render HTML for %q: %w", msg.Kind, err)
	}
	var txtBuf bytes.Buffer
	if err := txtTmpl.Execute(&txtBuf, data); err != nil {
		return nil, fmt.Errorf("renderer: failed to render text for %q: %w", msg.Kind, err)
	}

	return &RenderedEmail{
		Subject:  data.Subject,
		BodyHTML: htmlBuf.String(),
		BodyText: txtBuf.String(),
	}, nil
}

func (r *Renderer) buildTemplateData(msg types.NotificationMessage) templateData {
	data := templateData{
		AppURL:            r.appURL,
		Year:              r.now().UTC().Year(),
		FirstName:         stringFromData(msg.Data, DataFirstName),
		PlanName:          stringFromData(msg.Data, DataPlanName),
		OldPlan:           stringFromData(msg.Data, DataOldPlan),
		DaysLeft:          intFromData(msg.Data, DataDaysLeft),
		CancelAtPeriodEnd: boolFromData(msg.Data, DataCancelAtPeriodEnd),
		PeriodEnd:         stringFromData(msg.Data, DataPeriodEnd),
	}
	if data.PlanName == "" {
		data.PlanName = types.PlanNamePro
	}

	subject := subjects[msg.Kind]
	if strings.Contains(subject, "%s") {
		subject = fmt.Sprintf(subject, data.PlanName)
	}
	data.Subject = subject
	return data
}

func stringFromData(data map[string]any, key string) string {
	v, _ := data[key].(string)
	return v
}

// intFromData accepts the numeric shapes a value can take before and after
// a JSON round trip through the queue.
func intFromData(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(math.Round(v))
	case string:
		n, _ := strconv.Atoi(v)
		return n
	}
	return 0
}

func boolFromData(data map[string]any, key string) bool {
	v, _ := data[key].(bool)
	return v
}
