package warning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"html/template"
	"io"

	"github.com/haukened/siteblock/internal/siteblock/common/utils"
	"github.com/haukened/siteblock/internal/siteblock/domain"
)

// OverlayID is the element id of the interstitial root.
const OverlayID = "siteblock-warning"

// Page is everything the interstitial shows.
type Page struct {
	Template    domain.WarningTemplate
	BlockedURL  string
	ContinueURL string
}

// NewPage resolves templateID (falling back to the default template) and the
// continue target (falling back to the default redirect URL).
func NewPage(templateID, blockedURL, continueURL string) Page {
	return Page{
		Template:    Resolve(templateID),
		BlockedURL:  blockedURL,
		ContinueURL: domain.WarningAction{ContinueURL: continueURL}.ContinueTarget(),
	}
}

// ContinueHost is the hostname shown on the continue button.
func (p Page) ContinueHost() string {
	if h := utils.HostnameOf(p.ContinueURL); h != "" {
		return h
	}
	return p.ContinueURL
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<meta name="referrer" content="no-referrer">
<title>{{.Template.Title}}</title>
<style>
*{box-sizing:border-box}
html,body{margin:0;padding:0;width:100%;height:100%;overflow:hidden;background:#000}
#` + OverlayID + `{font-family:ui-monospace,SFMono-Regular,Menlo,Consolas,monospace;position:fixed;inset:0;z-index:2147483647;display:flex;align-items:center;justify-content:center;background:#000;color:#fff}
.container{max-width:500px;margin:2rem}
.brand{text-align:center;font-size:.875rem;font-weight:600;margin-bottom:1.5rem}
.content{border-radius:.5rem;background:#09090b;border:1px solid #27272a}
.content-header{padding:.5rem .75rem;border-bottom:1px solid #27272a;font-size:.75rem;color:#a1a1aa}
.content-body{padding:1.5rem;text-align:center}
.icon{font-size:3rem;margin-bottom:1rem}
.title{font-size:1.5rem;font-weight:600;margin-bottom:.75rem}
.message{font-size:.875rem;line-height:1.5;margin-bottom:1.5rem;color:#d4d4d8}
.url{font-size:.75rem;word-break:break-all;padding:.75rem;margin-bottom:1.5rem;border-radius:.375rem;background:#18181b;border:1px solid #27272a;color:#a1a1aa}
.buttons{display:flex;gap:.5rem;justify-content:center}
.buttons a{padding:.5rem 1.5rem;border-radius:.375rem;font-size:.75rem;font-weight:500;text-decoration:none}
.back{background:#27272a;color:#d4d4d8}
.continue{background:#fff;color:#000}
.footer{text-align:center;margin-top:1rem;font-size:.625rem;color:#71717a}
@media (max-width:640px){.container{margin:1rem}.buttons{flex-direction:column}}
</style>
</head>
<body>
<div id="` + OverlayID + `" data-template="{{.Template.ID}}" data-color="{{.Template.Color}}">
<div class="container">
<div class="brand">siteblock</div>
<div class="content">
<div class="content-header">blocked site</div>
<div class="content-body">
<div class="icon">{{.Template.Icon}}</div>
<div class="title">{{.Template.Title}}</div>
<div class="message">{{.Template.Message}}</div>
<div class="url">{{.BlockedURL}}</div>
<div class="buttons">
<a class="back" href="javascript:history.back()">go back</a>
<a class="continue" href="{{.ContinueURL}}">continue to {{.ContinueHost}}</a>
</div>
</div>
</div>
<div class="footer">privacy-first &bull; open source &bull; local storage</div>
</div>
</div>
</body>
</html>
`))

// Render writes the full interstitial document for p.
func Render(w io.Writer, p Page) error {
	if err := pageTmpl.Execute(w, p); err != nil {
		return fmt.Errorf("render warning page: %w", err)
	}
	return nil
}

// RenderBytes renders p into memory.
func RenderBytes(p Page) ([]byte, error) {
	var buf bytes.Buffer
	if err := Render(&buf, p); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// containTmpl re-asserts the overlay. It strips embeds and floating
// elements outside the overlay and rewrites the document from the rendered
// page when the overlay is gone. Containment is best-effort: a page that
// controls its own scripts can still defeat it between runs.
const containTmpl = `(function(){
var doc=%s;
var o=document.getElementById(%q);
if(!o){document.open();document.write(doc);document.close();return "restored";}
document.querySelectorAll("iframe, embed, object, video, audio, div[style*='position: fixed'], div[style*='z-index']").forEach(function(el){if(!o.contains(el)){el.remove();}});
if(document.body){Array.prototype.slice.call(document.body.children).forEach(function(el){if(el!==o){el.remove();}});}
if(!document.body||!document.body.contains(o)){(document.body||document.documentElement).appendChild(o);}
window.open=function(){return null;};
return "ok";
})()`

// ContainScript returns the JavaScript expression that enforces the overlay
// rendered from doc. It evaluates to "ok", or "restored" when the page had
// to be rewritten.
func ContainScript(doc []byte) (string, error) {
	lit, err := json.Marshal(string(doc))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf(containTmpl, lit, OverlayID), nil
}
