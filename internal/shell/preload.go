package shell

import (
	_ "embed"
	"strings"
	"text/template"
	"time"
)

// Names of the Go functions bound into the page.
const (
	BindAttach   = "msgshellAttach"
	BindTitle    = "msgshellTitle"
	BindFocus    = "msgshellFocus"
	BindBlur     = "msgshellBlur"
	BindOpenLink = "msgshellOpenLink"
	BindDetach   = "msgshellDetach"
)

// DefaultStartupRetry is how often the page script looks for <title>.
const DefaultStartupRetry = time.Second

//go:embed preload.js.tmpl
var preloadSrc string

var preloadTmpl = template.Must(template.New("preload").Parse(preloadSrc))

type preloadParams struct {
	StartupRetryMS int64
	Attach         string
	Title          string
	Focus          string
	Blur           string
	OpenLink       string
	Detach         string
}

// RenderPreload returns the script injected before every page load.
func RenderPreload(startupRetry time.Duration) (string, error) {
	if startupRetry <= 0 {
		startupRetry = DefaultStartupRetry
	}
	var b strings.Builder
	err := preloadTmpl.Execute(&b, preloadParams{
		StartupRetryMS: startupRetry.Milliseconds(),
		Attach:         BindAttach,
		Title:          BindTitle,
		Focus:          BindFocus,
		Blur:           BindBlur,
		OpenLink:       BindOpenLink,
		Detach:         BindDetach,
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
