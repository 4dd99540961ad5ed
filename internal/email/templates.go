package email

import (
	"bytes"
	"fmt"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"
)

type OrderSummary struct {
	OrderNumber  string
	CustomerName string
	ProductName  string
	SKU          string
}

type ClaimEmailData struct {
	BrandName string
	ClaimURL  string
	ExpiresAt time.Time
	Order     OrderSummary
}

type WalletSummary struct {
	Address string
}

type MintSummary struct {
	TokenID         string
	TransactionHash string
	ContractAddress string
	Chain           string
	CertificateID   string
	CertificateURL  string
}

type WelcomeEmailData struct {
	BrandName string
	PortalURL string
	Wallet    WalletSummary
	Mint      MintSummary
	Order     OrderSummary
}

type TestEmailData struct {
	BrandName string
	Provider  string
	SentAt    time.Time
}

type emailTemplate struct {
	subject *texttemplate.Template
	text    *texttemplate.Template
	html    *htmltemplate.Template
}

// Renderer renders the built-in message templates.
type Renderer struct {
	templates map[string]emailTemplate
}

const (
	templateClaim   = "claim"
	templateWelcome = "welcome"
	templateTest    = "test"
)

func NewRenderer() (*Renderer, error) {
	sources := map[string][3]string{
		templateClaim:   {claimSubject, claimText, claimHTML},
		templateWelcome: {welcomeSubject, welcomeText, welcomeHTML},
		templateTest:    {testSubject, testText, testHTML},
	}
	funcs := map[string]any{
		"formatDate": func(t time.Time) string { return t.UTC().Format("January 2, 2006") },
	}

	templates := make(map[string]emailTemplate, len(sources))
	for name, src := range sources {
		subject, err := texttemplate.New(name + "_subject").Funcs(funcs).Parse(src[0])
		if err != nil {
			return nil, fmt.Errorf("failed to parse subject template %s: %w", name, err)
		}
		text, err := texttemplate.New(name + "_text").Funcs(funcs).Parse(src[1])
		if err != nil {
			return nil, fmt.Errorf("failed to parse text template %s: %w", name, err)
		}
		html, err := htmltemplate.New(name + "_html").Funcs(funcs).Parse(src[2])
		if err != nil {
			return nil, fmt.Errorf("failed to parse HTML template %s: %w", name, err)
		}
		templates[name] = emailTemplate{subject: subject, text: text, html: html}
	}
	return &Renderer{templates: templates}, nil
}

func (r *Renderer) render(name, to string, data any) (*Email, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("unknown email template %q", name)
	}

	var subject, text, html bytes.Buffer
	if err := tmpl.subject.Execute(&subject, data); err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}
	if err := tmpl.text.Execute(&text, data); err != nil {
		return nil, fmt.Errorf("failed to render text template: %w", err)
	}
	if err := tmpl.html.Execute(&html, data); err != nil {
		return nil, fmt.Errorf("failed to render HTML template: %w", err)
	}

	return &Email{
		To:      to,
		Subject: subject.String(),
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}

func (r *Renderer) RenderClaim(to string, data ClaimEmailData) (*Email, error) {
	return r.render(templateClaim, to, data)
}

func (r *Renderer) RenderWelcome(to string, data WelcomeEmailData) (*Email, error) {
	return r.render(templateWelcome, to, data)
}

func (r *Renderer) RenderTest(to string, data TestEmailData) (*Email, error) {
	return r.render(templateTest, to, data)
}

const claimSubject = `Claim your digital certificate for {{.Order.OrderNumber}}`

const claimText = `Hi{{if .Order.CustomerName}} {{.Order.CustomerName}}{{end}},

Thank you for your {{.BrandName}} order {{.Order.OrderNumber}}.

Your purchase of {{.Order.ProductName}}{{if .Order.SKU}} ({{.Order.SKU}}){{end}} includes a digital certificate of authenticity minted as an NFT.

Claim it here:
{{.ClaimURL}}

This link expires on {{formatDate .ExpiresAt}}. Use the email address from your order when claiming.

{{.BrandName}}
`

const claimHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1a1a1a; max-width: 600px; margin: 0 auto;">
  <h2>Your certificate of authenticity is ready</h2>
  <p>Hi{{if .Order.CustomerName}} {{.Order.CustomerName}}{{end}},</p>
  <p>Thank you for your {{.BrandName}} order <strong>{{.Order.OrderNumber}}</strong>.</p>
  <p>Your purchase of <strong>{{.Order.ProductName}}</strong>{{if .Order.SKU}} ({{.Order.SKU}}){{end}} includes a digital certificate of authenticity minted as an NFT.</p>
  <p style="margin: 32px 0;">
    <a href="{{.ClaimURL}}" style="background: #1a1a1a; color: #ffffff; padding: 12px 24px; text-decoration: none; border-radius: 4px;">Claim your certificate</a>
  </p>
  <p style="color: #666666; font-size: 13px;">This link expires on {{formatDate .ExpiresAt}}. Use the email address from your order when claiming.</p>
</body>
</html>
`

const welcomeSubject = `Your {{.BrandName}} certificate has been minted`

const welcomeText = `Hi{{if .Order.CustomerName}} {{.Order.CustomerName}}{{end}},

Your certificate of authenticity for {{.Order.ProductName}} (order {{.Order.OrderNumber}}) is now on-chain.

Wallet address: {{.Wallet.Address}}
Token ID: {{.Mint.TokenID}}
Contract: {{.Mint.ContractAddress}} on {{.Mint.Chain}}
Transaction: {{.Mint.TransactionHash}}
Certificate ID: {{.Mint.CertificateID}}
Certificate: {{.Mint.CertificateURL}}

Keep the recovery phrase shown during your claim somewhere safe. We cannot show it again.

{{.BrandName}}
`

const welcomeHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #1a1a1a; max-width: 600px; margin: 0 auto;">
  <h2>Your certificate has been minted</h2>
  <p>Hi{{if .Order.CustomerName}} {{.Order.CustomerName}}{{end}},</p>
  <p>Your certificate of authenticity for <strong>{{.Order.ProductName}}</strong> (order {{.Order.OrderNumber}}) is now on-chain.</p>
  {{if .Mint.CertificateURL}}<p><img src="{{.Mint.CertificateURL}}" alt="Certificate {{.Mint.CertificateID}}" style="max-width: 100%;"></p>{{end}}
  <table style="font-size: 14px; border-collapse: collapse;">
    <tr><td style="padding: 4px 12px 4px 0;">Wallet</td><td><code>{{.Wallet.Address}}</code></td></tr>
    <tr><td style="padding: 4px 12px 4px 0;">Token ID</td><td>{{.Mint.TokenID}}</td></tr>
    <tr><td style="padding: 4px 12px 4px 0;">Contract</td><td><code>{{.Mint.ContractAddress}}</code> ({{.Mint.Chain}})</td></tr>
    <tr><td style="padding: 4px 12px 4px 0;">Transaction</td><td><code>{{.Mint.TransactionHash}}</code></td></tr>
    <tr><td style="padding: 4px 12px 4px 0;">Certificate ID</td><td>{{.Mint.CertificateID}}</td></tr>
  </table>
  <p style="color: #666666; font-size: 13px;">Keep the recovery phrase shown during your claim somewhere safe. We cannot show it again.</p>
</body>
</html>
`

const testSubject = `Test email from {{.BrandName}} via {{.Provider}}`

const testText = `This is a test email sent by {{.BrandName}} through the {{.Provider}} email provider at {{.SentAt.UTC.Format "2006-01-02T15:04:05Z07:00"}}.
`

const testHTML = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif;">
  <p>This is a test email sent by {{.BrandName}} through the <strong>{{.Provider}}</strong> email provider at {{.SentAt.UTC.Format "2006-01-02T15:04:05Z07:00"}}.</p>
</body>
</html>
`
