package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
)

// mountUpload registra o upload simples de imagem de produto.
func (a *App) mountUpload(r chi.Router) {
	r.Post("/upload", a.uploadImage)
}

// uploadImage salva um arquivo de imagem em UPLOAD_DIR e devolve a URL
// pública. Se product_id for informado, já vincula a imagem ao produto.
func (a *App) uploadImage(w http.ResponseWriter, r *http.Request) {
	companyID, ok := requireCompany(w, r)
	if !ok {
		return
	}
	if err := r.ParseMultipartForm(20 << 20); err != nil {
		http.Error(w, "multipart parse error: "+err.Error(), http.StatusBadRequest)
		return
	}
	file, hdr, err := r.FormFile("image")
	if err != nil {
		http.Error(w, "image file required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "read file error: "+err.Error(), http.StatusBadRequest)
		return
	}
	mime := contentTypeFromHeader(hdr)
	if !strings.HasPrefix(mime, "image/") {
		http.Error(w, "only images are accepted", http.StatusBadRequest)
		return
	}

	uploadDir := getenv("UPLOAD_DIR", "uploads")
	if err := os.MkdirAll(uploadDir, 0o755); err != nil {
		http.Error(w, "create upload dir error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	filename := fmt.Sprintf("img_%d%s", time.Now().UnixNano(), guessExt(mime))
	dst := filepath.Join(uploadDir, filename)
	if err := os.WriteFile(dst, raw, 0o644); err != nil {
		http.Error(w, "save file error: "+err.Error(), http.StatusInternalServerError)
		return
	}
	publicURL := "/uploads/" + filename

	if pid, _ := strconv.ParseInt(strings.TrimSpace(r.FormValue("product_id")), 10, 64); pid > 0 {
		_, _ = a.DB.Exec(r.Context(),
			`UPDATE products SET image_url=$1 WHERE id=$2 AND company_id=$3`,
			publicURL, pid, companyID)
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "url": publicURL})
}
