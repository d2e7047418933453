package handlers

import (
	"html"

	"github.com/gofiber/fiber/v2"
)

type RootHandler struct {
	prefix string
	siteID string
}

func NewRootHandler(prefix, siteID string) *RootHandler {
	return &RootHandler{prefix: prefix, siteID: siteID}
}

// Index serves a small landing page pointing at the API.
func (h *RootHandler) Index(c *fiber.Ctx) error {
	prefix := html.EscapeString(h.prefix)
	site := html.EscapeString(h.siteID)

	return c.Type("html").SendString(`<!DOCTYPE html>
<html><head><title>Night Report Service - ` + site + `</title>
<meta name="viewport" content="width=device-width, initial-scale=1">
<style>body{font-family:-apple-system,BlinkMacSystemFont,sans-serif;max-width:800px;margin:0 auto;padding:20px;color:#333}h1{color:#1a1a1a}h2{color:#444;margin-top:30px}code{background:#f4f4f4;padding:2px 4px}</style>
</head><body>
<h1>Night Report Service</h1>
<p>Site: <span id="site-id">` + site + `</span></p>
<p>Stores observatory night reports. Edits never change a stored report: they add a new version
linked to the old one through <code>parent_id</code>, and the old version becomes invalid.</p>
<h2>Endpoints</h2>
<ul id="endpoints">
<li><a href="` + prefix + `/reports">GET ` + prefix + `/reports</a>: find reports (add <code>format=csv</code> for CSV)</li>
<li>GET ` + prefix + `/reports/{id}: read one report</li>
<li>POST ` + prefix + `/reports: add a report</li>
<li>PATCH ` + prefix + `/reports/{id}: edit a report</li>
<li>DELETE ` + prefix + `/reports/{id}: delete a report</li>
<li><a href="` + prefix + `/configuration">GET ` + prefix + `/configuration</a>: service configuration</li>
</ul>
</body></html>`)
}
