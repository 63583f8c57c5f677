// Package ui renders the few HTML pages a browser lands on during the
// invitation flow: the WAYF chooser and its error page.
package ui

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"

	"github.com/MahdiBaghbani/collabmesh-go/internal/components/federation"
)

//go:embed templates/*.html
var templateFS embed.FS

// Pages holds the parsed templates.
type Pages struct {
	instanceName string
	templates    *template.Template
}

// New parses the embedded templates.
func New(instanceName string) (*Pages, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Pages{instanceName: instanceName, templates: tmpl}, nil
}

type wayfData struct {
	Instance string
	Origin   string
	Choices  []federation.Choice
}

type errorData struct {
	Instance string
	Title    string
	Message  string
	Code     string
}

// WAYF renders the provider chooser.
func (p *Pages) WAYF(w http.ResponseWriter, wayf *federation.WAYF) {
	origin := wayf.Origin.Name
	if origin == "" {
		origin = wayf.Origin.Domain
	}
	p.render(w, http.StatusOK, "wayf.html", wayfData{
		Instance: p.instanceName,
		Origin:   origin,
		Choices:  wayf.Choices,
	})
}

// Error renders a human readable failure with the symbolic code.
func (p *Pages) Error(w http.ResponseWriter, status int, code, message string) {
	p.render(w, status, "error.html", errorData{
		Instance: p.instanceName,
		Title:    http.StatusText(status),
		Message:  message,
		Code:     code,
	})
}

func (p *Pages) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := p.templates.ExecuteTemplate(&buf, name, data); err != nil {
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
