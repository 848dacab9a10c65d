package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/ocrd-io/ocrd/internal/imaging"
	"github.com/ocrd-io/ocrd/internal/metrics"
	"github.com/ocrd-io/ocrd/internal/vllm"
)

// multipartSlack leaves room for the form framing around the file part when
// bounding the whole request body.
const multipartSlack = 64 << 10

type ocrResponse struct {
	RequestID    string `json:"request_id"`
	Model        string `json:"model"`
	Markdown     string `json:"markdown"`
	ProcessingMS int64  `json:"processing_ms"`
}

func (r *Router) handleOCR(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, r.maxUpload+multipartSlack)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		if isBodyTooLarge(err) {
			r.rejectTooLarge(c)
			return
		}
		writeError(c, http.StatusBadRequest, codeInvalidRequest, `multipart form with a "file" field required`)
		return
	}
	defer func() { _ = file.Close() }()

	c.Set(logKeyFileName, header.Filename)
	c.Set(logKeyFileSize, header.Size)
	if header.Size > r.maxUpload {
		r.rejectTooLarge(c)
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		if isBodyTooLarge(err) {
			r.rejectTooLarge(c)
			return
		}
		writeError(c, http.StatusBadRequest, codeInvalidRequest, "read upload: "+err.Error())
		return
	}
	if len(data) == 0 {
		writeError(c, http.StatusBadRequest, codeInvalidRequest, "uploaded file is empty")
		return
	}

	ct := imaging.Normalize(header.Header.Get("Content-Type"))
	if ct == "" || ct == "application/octet-stream" {
		ct = imaging.Normalize(http.DetectContentType(data))
	}
	if !imaging.Allowed(ct) {
		writeError(c, http.StatusUnsupportedMediaType, codeUnsupportedMediaType,
			fmt.Sprintf("content type %q not supported, expected one of %s",
				ct, strings.Join(imaging.AllowedTypes(), ", ")))
		return
	}

	res, err := r.client.OCR(c.Request.Context(), imaging.DataURL(ct, data))
	if err != nil {
		r.writeBackendError(c, err)
		return
	}
	metrics.ObserveBackendRequest("ok", res.Latency.Seconds())
	c.Set(logKeyBackendLatencyMS, res.Latency.Milliseconds())
	writeJSON(c, http.StatusOK, ocrResponse{
		RequestID:    requestIDFrom(c),
		Model:        res.Model,
		Markdown:     res.Markdown,
		ProcessingMS: res.Latency.Milliseconds(),
	})
}

func (r *Router) rejectTooLarge(c *gin.Context) {
	writeError(c, http.StatusRequestEntityTooLarge, codePayloadTooLarge,
		fmt.Sprintf("upload exceeds the %d byte limit", r.maxUpload))
}

// writeBackendError maps a backend failure onto the error contract: timeouts
// become 504, everything else the backend did wrong becomes 502.
func (r *Router) writeBackendError(c *gin.Context, err error) {
	var be *vllm.Error
	if !errors.As(err, &be) {
		writeError(c, http.StatusInternalServerError, codeInternalError, err.Error())
		return
	}
	metrics.ObserveBackendRequest(be.Class, be.Latency.Seconds())
	c.Set(logKeyBackendClass, be.Class)
	c.Set(logKeyBackendLatencyMS, be.Latency.Milliseconds())
	if be.StatusCode != 0 {
		c.Set(logKeyBackendStatus, be.StatusCode)
	}
	status, code := http.StatusBadGateway, codeBackendError
	if be.Timeout() {
		status, code = http.StatusGatewayTimeout, codeBackendTimeout
	}
	writeError(c, status, code, be.Error())
}

func isBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe) || strings.Contains(err.Error(), "request body too large")
}
