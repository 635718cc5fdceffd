package httptransport

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"

	"gopkg.in/yaml.v3"

	"leihsldap/internal/login"
)

//go:embed templates/*.html errors.yml
var content embed.FS

// ErrorPage is one entry of the embedded error catalog.
type ErrorPage struct {
	Title   string `yaml:"title"`
	Message string `yaml:"message"`
}

// Pages renders the login form and the typed error pages. The error catalog
// is embedded; every login.Reason must have an entry, which NewPages checks
// so a missing page is a startup failure instead of a broken error response.
type Pages struct {
	login    *template.Template
	errPage  *template.Template
	catalog  map[string]ErrorPage
	leihsURL string
}

// NewPages parses the embedded templates and error catalog. leihsURL is
// offered on error pages as the way back to the downstream system.
func NewPages(leihsURL string) (*Pages, error) {
	loginTmpl, err := template.ParseFS(content, "templates/login.html")
	if err != nil {
		return nil, fmt.Errorf("parse login template: %w", err)
	}
	errTmpl, err := template.ParseFS(content, "templates/error.html")
	if err != nil {
		return nil, fmt.Errorf("parse error template: %w", err)
	}

	raw, err := content.ReadFile("errors.yml")
	if err != nil {
		return nil, fmt.Errorf("read error catalog: %w", err)
	}
	var catalog map[string]ErrorPage
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("parse error catalog: %w", err)
	}

	for _, reason := range []login.Reason{
		login.ReasonNoToken,
		login.ReasonInvalidToken,
		login.ReasonExpiredToken,
		login.ReasonInvalidCredentials,
		login.ReasonInternal,
	} {
		if _, ok := catalog[string(reason)]; !ok {
			return nil, fmt.Errorf("error catalog is missing entry %q", reason)
		}
	}

	return &Pages{
		login:    loginTmpl,
		errPage:  errTmpl,
		catalog:  catalog,
		leihsURL: leihsURL,
	}, nil
}

// RenderLogin writes the login form for the given prompt.
func (p *Pages) RenderLogin(w http.ResponseWriter, prompt *login.Prompt) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_ = p.login.Execute(w, map[string]any{
		"Token":    prompt.Token,
		"Username": prompt.Username,
	})
}

// RenderError writes the error page for the given catalog id with the given
// status. Unknown ids fall back to the internal error page.
func (p *Pages) RenderError(w http.ResponseWriter, id string, status int) {
	page, ok := p.catalog[id]
	if !ok {
		page = p.catalog[string(login.ReasonInternal)]
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_ = p.errPage.Execute(w, map[string]any{
		"Title":    page.Title,
		"Message":  page.Message,
		"LeihsURL": p.leihsURL,
	})
}
