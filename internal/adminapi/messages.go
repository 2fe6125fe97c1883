package adminapi

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/talkincode/wahub/internal/session"
	"github.com/talkincode/wahub/internal/webserver"
)

const maxMediaBytes = 64 << 20

func registerMessageRoutes() {
	webserver.ApiPOST("/sessions/:id/send-text", postSendText)
	webserver.ApiPOST("/sessions/:id/send-media", postSendMedia)
}

type sendResult struct {
	Session string `json:"session"`
	To      string `json:"to"`
	Status  string `json:"status"`
}

// postSendText sends a text message through the tenant's session.
// Request JSON: { "to": "6281234567890", "message": "hello" }
func postSendText(c echo.Context) error {
	var payload struct {
		To      string `json:"to"`
		Message string `json:"message"`
	}
	if err := c.Bind(&payload); err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to parse request", err.Error())
	}
	if payload.To == "" || payload.Message == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "to and message are required", nil)
	}
	tenant := c.Param("id")
	if err := sessions(c).SendText(c.Request().Context(), tenant, payload.To, payload.Message); err != nil {
		return failSession(c, err)
	}
	return ok(c, sendResult{Session: tenant, To: payload.To, Status: "SENT"})
}

// postSendMedia sends an uploaded file. Multipart fields: to, file,
// optional caption and mimetype (sniffed when absent).
func postSendMedia(c echo.Context) error {
	to := c.FormValue("to")
	if to == "" {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "to and file are required", nil)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return fail(c, http.StatusBadRequest, "MISSING_FIELDS", "to and file are required", err.Error())
	}
	if fh.Size > maxMediaBytes {
		return fail(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds the upload limit", fh.Size)
	}
	f, err := fh.Open()
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to read upload", err.Error())
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, maxMediaBytes+1))
	if err != nil {
		return fail(c, http.StatusBadRequest, "INVALID_REQUEST", "Unable to read upload", err.Error())
	}
	if len(data) > maxMediaBytes {
		return fail(c, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "file exceeds the upload limit", len(data))
	}

	mime := c.FormValue("mimetype")
	if mime == "" {
		mime = fh.Header.Get("Content-Type")
	}
	media := session.Media{
		Data:     data,
		MIME:     mime,
		Filename: fh.Filename,
		Caption:  c.FormValue("caption"),
	}
	tenant := c.Param("id")
	if err := sessions(c).SendMedia(c.Request().Context(), tenant, to, media); err != nil {
		return failSession(c, err)
	}
	return ok(c, sendResult{Session: tenant, To: to, Status: "SENT"})
}
