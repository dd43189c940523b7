package main

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/schollz/progressbar/v3"
)

type UploadCommand struct {
	Files    []string
	URL      *url.URL
	Insecure bool
	Quiet    bool
}

type uploadResponse struct {
	Message      string    `json:"message"`
	DownloadLink string    `json:"download_link"`
	ExpiresAt    time.Time `json:"expires_at"`
	Error        string    `json:"error"`
}

// Do streams every file to the server as one multipart request and prints the
// download link to stdout.
func (u UploadCommand) Do(ctx context.Context, stdout, stderr io.Writer) error {
	var total int64
	for _, name := range u.Files {
		fi, err := os.Stat(name)
		if err != nil {
			return err
		}
		total += fi.Size()
	}

	bar := progressbar.DefaultSilent(total)
	if !u.Quiet {
		bar = progressbar.NewOptions64(total,
			progressbar.OptionSetWriter(stderr),
			progressbar.OptionSetDescription("uploading"),
			progressbar.OptionShowBytes(true),
			progressbar.OptionSetWidth(30),
			progressbar.OptionThrottle(65*time.Millisecond),
			progressbar.OptionClearOnFinish(),
		)
	}

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() { pw.CloseWithError(writeParts(mw, u.Files, bar)) }()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.URL.JoinPath("upload").String(), pr)
	if err != nil {
		pr.Close()
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	c := http.DefaultClient
	if u.Insecure {
		c = &http.Client{Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}}
	}
	res, err := c.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	var body uploadResponse
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		return fmt.Errorf("upload: %s: %w", res.Status, err)
	}
	if res.StatusCode != http.StatusOK {
		return fmt.Errorf("upload: %s: %s", res.Status, body.Error)
	}
	bar.Finish()
	_, err = fmt.Fprintln(stdout, body.DownloadLink)
	return err
}

func writeParts(mw *multipart.Writer, names []string, progress io.Writer) error {
	for _, name := range names {
		if err := writePart(mw, name, progress); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writePart(mw *multipart.Writer, name string, progress io.Writer) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	mt, err := mimetype.DetectReader(f)
	if err != nil {
		return fmt.Errorf("detect %s: %w", name, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return err
	}

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", mime.FormatMediaType("form-data", map[string]string{
		"name":     "files",
		"filename": filepath.Base(name),
	}))
	h.Set("Content-Type", mt.String())
	w, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(io.MultiWriter(w, progress), f)
	return err
}
