package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
)

// ScreenshotUpload is one image with its owning employee and optional metadata.
type ScreenshotUpload struct {
	EmployeeID  string
	Image       io.Reader
	Filename    string
	ContentType string
	Metadata    *ScreenshotMetadata
}

// UploadScreenshot posts the image as multipart form data.
func (c *Client) UploadScreenshot(ctx context.Context, up ScreenshotUpload) (*Screenshot, error) {
	if up.Image == nil {
		return nil, fmt.Errorf("upload screenshot: image is required")
	}
	filename := up.Filename
	if filename == "" {
		filename = "screenshot.png"
	}
	contentType := up.ContentType
	if contentType == "" {
		contentType = "image/png"
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	if err := form.WriteField("employeeId", up.EmployeeID); err != nil {
		return nil, err
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="screenshot"; filename=%q`, filename))
	header.Set("Content-Type", contentType)
	part, err := form.CreatePart(header)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, up.Image); err != nil {
		return nil, fmt.Errorf("read screenshot: %w", err)
	}

	if up.Metadata != nil {
		meta, err := json.Marshal(up.Metadata)
		if err != nil {
			return nil, err
		}
		if err := form.WriteField("metadata", string(meta)); err != nil {
			return nil, err
		}
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/screenshot", nil, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	var out Screenshot
	if err := c.do(req, "/screenshot", &out); err != nil {
		return nil, err
	}
	return &out, nil
}
