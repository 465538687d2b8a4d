package httpapi

import (
	"bytes"
	"embed"
	"encoding/base64"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"handscribe/internal/pipeline"
	"handscribe/pkg/types"
)

//go:embed templates/*.html
var templateFS embed.FS

// resultData feeds the result template.
type resultData struct {
	System   types.StatusResponse
	File     string
	Image    string
	OK       bool
	Error    string
	Elapsed  string
	Markdown string
	Preview  template.HTML
	Download template.URL
	Filename string
}

type ui struct {
	tmpl   *template.Template
	md     goldmark.Markdown
	policy *bluemonday.Policy
}

func newUI() *ui {
	return &ui{
		tmpl:   template.Must(template.ParseFS(templateFS, "templates/*.html")),
		md:     goldmark.New(goldmark.WithExtensions(extension.GFM)),
		policy: bluemonday.UGCPolicy(),
	}
}

func (u *ui) renderIndex(w http.ResponseWriter, st types.StatusResponse) {
	u.render(w, http.StatusOK, "index", struct{ System types.StatusResponse }{st})
}

func (u *ui) renderResult(w http.ResponseWriter, status int, data resultData) {
	if data.OK {
		data.Preview = u.preview(data.Markdown)
	}
	u.render(w, status, "result", data)
}

func (u *ui) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := u.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		zlog.Error().Err(err).Str("template", name).Msg("render failed")
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// preview renders markdown to sanitized HTML.
func (u *ui) preview(md string) template.HTML {
	var buf bytes.Buffer
	if err := u.md.Convert([]byte(md), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(md))
	}
	return template.HTML(u.policy.SanitizeBytes(buf.Bytes()))
}

func resultPage(up *upload, res pipeline.Result, err error, elapsed time.Duration, st types.StatusResponse) resultData {
	d := resultData{System: st}
	if up != nil {
		d.File = up.Name
		if up.Info.Width > 0 {
			d.Image = fmt.Sprintf("%dx%d pixels, Mode: %s", up.Info.Width, up.Info.Height, up.Info.Mode)
		}
	}
	if err != nil {
		d.Error = err.Error()
		return d
	}
	d.OK = true
	d.Elapsed = fmt.Sprintf("%.2f", elapsed.Seconds())
	d.Markdown = res.Markdown
	d.Filename = downloadName(time.Now())
	d.Download = template.URL("data:text/markdown;charset=utf-8;base64," + base64.StdEncoding.EncodeToString([]byte(res.Markdown)))
	return d
}
