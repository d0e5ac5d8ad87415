package api

import (
	"errors"
	"html/template"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"hedgeintel/internal/pipeline"
	"hedgeintel/internal/runner"
)

var uiTemplates = template.Must(template.New("layout").Parse(`{{define "home"}}
<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1"/>
  <title>Filing pipeline</title>
  <style>
    body{font-family:system-ui,-apple-system,Segoe UI,Roboto,Ubuntu,sans-serif;max-width:960px;margin:32px auto;padding:0 16px;color:#0b0b0b;background:#fafafa}
    h1{font-size:22px;margin:0 0 8px}
    a{color:#0b63e5;text-decoration:none}
    .card{background:#fff;border:1px solid #e9e9e9;border-radius:10px;padding:16px;margin:12px 0}
    .row{display:flex;gap:12px;flex-wrap:wrap}
    .btn{display:inline-block;background:#0b63e5;color:#fff;border:none;padding:8px 12px;border-radius:8px;cursor:pointer}
    input[type=text]{padding:8px 10px;border:1px solid #dcdcdc;border-radius:8px}
    .muted{color:#666}
    .mono{font-family:ui-monospace,SFMono-Regular,Menlo,Consolas,monospace}
    table{width:100%;border-collapse:collapse}
    td,th{text-align:left;padding:4px 6px;border-bottom:1px solid #eee;font-size:14px}
  </style>
</head>
<body>
  <h1>Filing pipeline</h1>
  {{if .Error}}
  <div class="card" style="border-color:#f2b8b5;background:#fff6f6"><strong style="color:#b3261e">Error:</strong> {{.Error}}</div>
  {{end}}
  <div class="card">
    {{if .Current}}
    <div>Running <span class="mono">{{.Current.ID}}</span> ({{.Current.Kind}}): {{range .Current.Tickers}}{{.}} {{end}}</div>
    {{else}}
    <div class="muted">Idle</div>
    {{end}}
  </div>
  <div class="card">
    <form method="post" action="/ui/companies" class="row">
      <input type="text" name="ticker" placeholder="Ticker" required />
      <input type="text" name="cik" placeholder="CIK (optional)" />
      <button class="btn" type="submit">Queue</button>
    </form>
    <form method="post" action="/ui/drain" style="margin-top:12px">
      <button class="btn" type="submit">Process pending</button>
    </form>
  </div>
  {{range .Lists}}
  <div class="card">
    <h3>{{.Name}} ({{len .Entries}})</h3>
    {{if .Entries}}
    <table>
      <tr><th>Ticker</th><th>CIK</th><th>Phase</th><th>Valid</th><th>Junk</th><th>Error</th><th></th></tr>
      {{range .Entries}}
      <tr>
        <td class="mono">{{.Ticker}}</td>
        <td class="mono">{{.CIK}}</td>
        <td>{{.Phase}}</td>
        <td>{{.ValidFiles}}</td>
        <td>{{.JunkFiles}}</td>
        <td class="muted">{{.LastError}}</td>
        <td><a href="/api/v1/companies/{{.Ticker}}/metadata">metadata</a> · <a href="/api/v1/companies/{{.Ticker}}/archive">zip</a></td>
      </tr>
      {{end}}
    </table>
    {{else}}
    <div class="muted">Empty</div>
    {{end}}
  </div>
  {{end}}
  <div class="muted">API base: <span class="mono">/api/v1</span></div>
</body>
</html>
{{end}}
`))

type uiList struct {
	Name    string
	Entries []pipeline.Entry
}

// RegisterUIRoutes registers a minimal HTML status page without JS
func (a *API) RegisterUIRoutes(router *gin.Engine) {
	router.SetHTMLTemplate(uiTemplates)
	router.GET("/", a.UIHome)
	router.POST("/ui/companies", a.UIEnqueue)
	router.POST("/ui/drain", a.UIDrain)
}

func (a *API) UIHome(c *gin.Context) { a.renderHome(c, http.StatusOK, "") }

// UIEnqueue queues a company from the form and redirects home
func (a *API) UIEnqueue(c *gin.Context) {
	ticker := strings.TrimSpace(c.PostForm("ticker"))
	cik := strings.TrimSpace(c.PostForm("cik"))
	if _, err := a.enqueue(c.Request.Context(), ticker, cik); err != nil {
		log.Warn().Str("ticker", ticker).Err(err).Msg("ui enqueue rejected")
		a.renderHome(c, enqueueStatus(err), err.Error())
		return
	}
	c.Redirect(http.StatusFound, "/")
}

func (a *API) UIDrain(c *gin.Context) {
	if _, err := a.manager.DrainPending(); err != nil {
		status := http.StatusConflict
		if errors.Is(err, runner.ErrNothingPending) {
			status = http.StatusUnprocessableEntity
		}
		a.renderHome(c, status, err.Error())
		return
	}
	c.Redirect(http.StatusFound, "/")
}

func (a *API) renderHome(c *gin.Context, status int, errMsg string) {
	snapshot := a.store.Snapshot()
	data := gin.H{
		"Error": errMsg,
		"Lists": []uiList{
			{Name: "Pending", Entries: snapshot.Pending},
			{Name: "Active", Entries: snapshot.Active},
			{Name: "Completed", Entries: snapshot.Completed},
		},
	}
	if run, ok := a.manager.Current(); ok {
		data["Current"] = run
	}
	c.HTML(status, "home", data)
}
