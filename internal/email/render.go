package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

// DigestGroup is the run of new messages on one entity inside a batch email.
type DigestGroup struct {
	EntityTitle string
	Messages    []string
}

type DigestData struct {
	RecipientName string
	Groups        []DigestGroup
}

func (d DigestData) MessageCount() int {
	n := 0
	for _, g := range d.Groups {
		n += len(g.Messages)
	}
	return n
}

type InstantData struct {
	RecipientName string
	AuthorName    string
	EntityTitle   string
	ThreadSubject string
	MessageText   string
	OldStatus     string
	NewStatus     string
}

func (d InstantData) IsStatusChange() bool {
	return d.OldStatus != "" && d.NewStatus != "" && d.OldStatus != d.NewStatus
}

// Renderer turns notification data into subject, HTML and text bodies.
// Message text is treated as markdown; the HTML form is sanitised.
type Renderer struct {
	siteName string
	siteURL  string
	md       goldmark.Markdown
	policy   *bluemonday.Policy

	digestHTML  *htmltemplate.Template
	digestText  *texttemplate.Template
	instantHTML *htmltemplate.Template
	instantText *texttemplate.Template
}

func NewRenderer(siteName, siteURL string) (*Renderer, error) {
	r := &Renderer{
		siteName: siteName,
		siteURL:  strings.TrimSuffix(siteURL, "/"),
		md:       goldmark.New(),
		policy:   bluemonday.UGCPolicy(),
	}

	funcs := htmltemplate.FuncMap{"markdown": r.markdown}
	var err error
	if r.digestHTML, err = htmltemplate.New("digest").Funcs(funcs).Parse(digestHTMLTemplate); err != nil {
		return nil, fmt.Errorf("parsing digest html template: %w", err)
	}
	if r.digestText, err = texttemplate.New("digest").Parse(digestTextTemplate); err != nil {
		return nil, fmt.Errorf("parsing digest text template: %w", err)
	}
	if r.instantHTML, err = htmltemplate.New("instant").Funcs(funcs).Parse(instantHTMLTemplate); err != nil {
		return nil, fmt.Errorf("parsing instant html template: %w", err)
	}
	if r.instantText, err = texttemplate.New("instant").Parse(instantTextTemplate); err != nil {
		return nil, fmt.Errorf("parsing instant text template: %w", err)
	}
	return r, nil
}

// markdown renders user text to sanitised HTML.
func (r *Renderer) markdown(text string) htmltemplate.HTML {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(text), &buf); err != nil {
		return htmltemplate.HTML(htmltemplate.HTMLEscapeString(text))
	}
	return htmltemplate.HTML(r.policy.SanitizeBytes(buf.Bytes())) //nolint:gosec
}

type templateData struct {
	SiteName     string
	DashboardURL string
	Data         any
}

func (r *Renderer) Digest(to, toName string, data DigestData) (Message, error) {
	subject := fmt.Sprintf("You've received %d new messages on your content", data.MessageCount())
	if data.MessageCount() == 1 {
		subject = "You've received a new message on your content"
	}
	return r.render(to, toName, subject, r.digestHTML, r.digestText, data)
}

func (r *Renderer) Instant(to, toName string, data InstantData) (Message, error) {
	subject := fmt.Sprintf("New update to thread %q on %s", data.ThreadSubject, data.EntityTitle)
	return r.render(to, toName, subject, r.instantHTML, r.instantText, data)
}

func (r *Renderer) render(to, toName, subject string, h *htmltemplate.Template, t *texttemplate.Template, data any) (Message, error) {
	td := templateData{SiteName: r.siteName, DashboardURL: r.siteURL + "/dashboard", Data: data}

	var html, text bytes.Buffer
	if err := h.Execute(&html, td); err != nil {
		return Message{}, fmt.Errorf("rendering html body: %w", err)
	}
	if err := t.Execute(&text, td); err != nil {
		return Message{}, fmt.Errorf("rendering text body: %w", err)
	}

	return Message{
		To:      to,
		ToName:  toName,
		Subject: subject,
		HTML:    html.String(),
		Text:    text.String(),
	}, nil
}

const digestTextTemplate = `Hi {{.Data.RecipientName}},

You've received {{if eq .Data.MessageCount 1}}a new message{{else}}{{.Data.MessageCount}} new messages{{end}} on your {{.SiteName}} content:
{{range .Data.Groups}}- {{.EntityTitle}}:
{{range .Messages}}- {{.}}
{{end}}{{end}}
You can view and reply to your messages from your dashboard: {{.DashboardURL}}

Thanks,
The {{.SiteName}} team
`

const digestHTMLTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; line-height: 1.5; color: #333;">
<p>Hi {{.Data.RecipientName}},</p>
<p>You've received {{if eq .Data.MessageCount 1}}a new message{{else}}{{.Data.MessageCount}} new messages{{end}} on your {{.SiteName}} content:</p>
<ul>
{{range .Data.Groups}}<li><strong>{{.EntityTitle}}</strong>
<ul>
{{range .Messages}}<li>{{markdown .}}</li>
{{end}}</ul>
</li>
{{end}}</ul>
<p>You can view and reply to your messages from your <a href="{{.DashboardURL}}">dashboard</a>.</p>
<p>Thanks,<br>The {{.SiteName}} team</p>
</body>
</html>
`

const instantTextTemplate = `Hi {{.Data.RecipientName}},

New update to thread "{{.Data.ThreadSubject}}" on {{.Data.EntityTitle}}:
{{if .Data.IsStatusChange}}- {{.Data.AuthorName}}: changed status from {{.Data.OldStatus}} to {{.Data.NewStatus}}
{{end}}{{if .Data.MessageText}}- {{.Data.AuthorName}}: {{.Data.MessageText}}
{{end}}
(You received this message because you are a participant in this thread.)

Best wishes,
The {{.SiteName}} team
`

const instantHTMLTemplate = `<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; line-height: 1.5; color: #333;">
<p>Hi {{.Data.RecipientName}},</p>
<p>New update to thread "{{.Data.ThreadSubject}}" on {{.Data.EntityTitle}}:</p>
<ul>
{{if .Data.IsStatusChange}}<li>{{.Data.AuthorName}}: changed status from {{.Data.OldStatus}} to {{.Data.NewStatus}}</li>
{{end}}{{if .Data.MessageText}}<li>{{.Data.AuthorName}}: {{markdown .Data.MessageText}}</li>
{{end}}</ul>
<p>(You received this message because you are a participant in this thread.)</p>
<p>Best wishes,<br>The {{.SiteName}} team</p>
</body>
</html>
`
