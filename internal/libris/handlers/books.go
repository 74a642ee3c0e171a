package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/libris-app/libris/internal/libris/models"
	"github.com/libris-app/libris/internal/libris/repository"
	"github.com/libris-app/libris/internal/libris/utils"
)

// ListBooks returns the catalog, optionally filtered and sorted.
func (h *Handler) ListBooks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	books, err := h.Repo.ListBooks(r.Context(), q.Get("category"), q.Get("sort_by"), q.Get("order"))
	if err != nil {
		serverError(w, err, "listing books failed")
		return
	}
	if books == nil {
		books = []models.Book{}
	}
	writeJSON(w, http.StatusOK, books)
}

// GetBook returns one book by id.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid book id")
		return
	}

	book, err := h.Repo.GetBookByID(r.Context(), id)
	if err != nil {
		serverError(w, err, "fetching book failed")
		return
	}
	if book == nil {
		writeError(w, http.StatusNotFound, models.CodeNotFound, "book not found")
		return
	}

	writeJSON(w, http.StatusOK, book)
}

// CreateBook creates a book from JSON, or from multipart form data
// with an uploaded cover image.
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	book, ok := h.decodeBook(w, r, &models.Book{})
	if !ok {
		return
	}

	if err := h.Repo.CreateBook(r.Context(), book); err != nil {
		serverError(w, err, "creating book failed")
		return
	}

	writeJSON(w, http.StatusCreated, book)
}

// UpdateBook replaces a book's fields.
func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid book id")
		return
	}

	existing, err := h.Repo.GetBookByID(r.Context(), id)
	if err != nil {
		serverError(w, err, "fetching book failed")
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, models.CodeNotFound, "book not found")
		return
	}

	book, ok := h.decodeBook(w, r, existing)
	if !ok {
		return
	}
	book.ID = id

	if err := h.Repo.UpdateBook(r.Context(), book); err != nil {
		if errors.Is(err, repository.ErrBookNotFound) {
			writeError(w, http.StatusNotFound, models.CodeNotFound, "book not found")
			return
		}
		serverError(w, err, "updating book failed")
		return
	}

	writeJSON(w, http.StatusOK, book)
}

// decodeBook reads a book payload from JSON or multipart form data and
// validates it. In the multipart case an uploaded image replaces the
// image URL.
func (h *Handler) decodeBook(w http.ResponseWriter, r *http.Request, book *models.Book) (*models.Book, bool) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if !h.decodeBookForm(w, r, book) {
			return nil, false
		}
	} else {
		if err := json.NewDecoder(r.Body).Decode(book); err != nil {
			writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid request body")
			return nil, false
		}
	}

	fields := map[string]string{}
	if book.Title == "" {
		fields["title"] = "title is required"
	}
	if book.Author == "" {
		fields["author"] = "author is required"
	}
	if book.Stock < 0 {
		fields["stock"] = "stock cannot be negative"
	}
	if !utils.ValidateISBN(book.ISBN) {
		fields["isbn"] = "invalid ISBN checksum"
	}
	if len(fields) > 0 {
		writeValidationError(w, fields)
		return nil, false
	}

	book.ISBN = utils.NormalizeISBN(book.ISBN)
	return book, true
}

func (h *Handler) decodeBookForm(w http.ResponseWriter, r *http.Request, book *models.Book) bool {
	if err := r.ParseMultipartForm(10 << 20); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid multipart form")
		return false
	}

	book.Title = r.FormValue("title")
	book.Author = r.FormValue("author")
	book.Category = r.FormValue("category")
	book.ISBN = r.FormValue("isbn")
	if v := r.FormValue("stock"); v != "" {
		book.Stock, _ = strconv.Atoi(v)
	}
	if v := r.FormValue("published_year"); v != "" {
		book.PublishedYear, _ = strconv.Atoi(v)
	}
	if v := r.FormValue("image_url"); v != "" {
		book.ImageURL = v
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		// No file uploaded; the form may carry an image_url instead.
		return true
	}
	defer file.Close()

	name := uuid.NewString() + filepath.Ext(header.Filename)
	if err := os.MkdirAll(h.UploadDir, 0o755); err != nil {
		serverError(w, err, "creating upload dir failed")
		return false
	}

	dst, err := os.Create(filepath.Join(h.UploadDir, name))
	if err != nil {
		serverError(w, err, "saving upload failed")
		return false
	}
	defer dst.Close()

	if _, err := io.Copy(dst, file); err != nil {
		serverError(w, err, "saving upload failed")
		return false
	}

	book.ImageURL = "/upload/" + name
	return true
}

// DeleteBook removes a book from the catalog.
func (h *Handler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, models.CodeValidation, "invalid book id")
		return
	}

	if err := h.Repo.DeleteBook(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrBookNotFound) {
			writeError(w, http.StatusNotFound, models.CodeNotFound, "book not found")
			return
		}
		serverError(w, err, "deleting book failed")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// PopularBooks ranks books by how often they were borrowed recently.
func (h *Handler) PopularBooks(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 10)
	days := queryInt(r, "days", 30)
	if limit < 1 || limit > 100 {
		limit = 10
	}
	if days < 1 {
		days = 30
	}

	popular, err := h.Repo.PopularBooks(r.Context(), limit, days)
	if err != nil {
		serverError(w, err, "ranking popular books failed")
		return
	}
	if popular == nil {
		popular = []models.PopularBook{}
	}
	writeJSON(w, http.StatusOK, popular)
}

// LibraryStats returns library-wide counters.
func (h *Handler) LibraryStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Repo.LibraryStats(r.Context(), time.Now())
	if err != nil {
		serverError(w, err, "computing library stats failed")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
