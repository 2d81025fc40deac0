package handlers

import (
	"bytes"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
)

const maxUploadSize = 50 << 20 // 50MB per request

type uploadedFile struct {
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	MimeType string `json:"mimeType"`
}

// Upload accepts a multipart "file" field, uploads it to object storage
// under a random key, and returns the attachment metadata the caller embeds
// into a subsequent send-message event.
func (a *API) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		RespondWithError(w, http.StatusBadRequest, "file too large or invalid form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		RespondWithError(w, http.StatusBadRequest, "no file provided")
		return
	}
	defer file.Close()

	head := make([]byte, 512)
	n, _ := io.ReadFull(file, head)
	mimeType := http.DetectContentType(head[:n])
	if ct := header.Header.Get("Content-Type"); mimeType == "application/octet-stream" && ct != "" {
		mimeType = ct
	}
	fullStream := io.MultiReader(bytes.NewReader(head[:n]), file)

	key := fmt.Sprintf("uploads/%d/%s-%s", userIDFromContext(r), uuid.New().String(), header.Filename)
	if err := a.Storage.UploadStream(r.Context(), key, mimeType, fullStream); err != nil {
		a.Log.Error().Err(err).Msg("upload failed")
		RespondWithError(w, http.StatusServiceUnavailable, "file storage unavailable")
		return
	}

	RespondWithJSON(w, http.StatusCreated, uploadedFile{
		FileURL:  key,
		FileName: header.Filename,
		FileSize: header.Size,
		MimeType: mimeType,
	})
}
