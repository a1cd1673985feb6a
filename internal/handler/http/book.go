package http

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/domain"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/internal/service"
	apperrors "github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/errors"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/httputil"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/middleware"
	"github.com/laflosh/Projet-7-Back-end-Mon-vieux-grimoire/pkg/validator"
)

const (
	// multipartOverhead leaves room for the "book" field and part headers
	// on top of the largest accepted image.
	multipartOverhead = 1 << 20
	maxJSONBody       = 1 << 20

	bookField  = "book"
	imageField = "image"
)

// BookHandler handles HTTP requests for book endpoints.
type BookHandler struct {
	service *service.BookService
	logger  *slog.Logger
}

// NewBookHandler creates a new book HTTP handler.
func NewBookHandler(svc *service.BookService, logger *slog.Logger) *BookHandler {
	return &BookHandler{
		service: svc,
		logger:  logger,
	}
}

// ListBooks handles GET /api/books.
func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.List(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, books)
}

// TopRated handles GET /api/books/bestrating. An optional "limit" query
// parameter changes the listing size.
func (h *BookHandler) TopRated(w http.ResponseWriter, r *http.Request) {
	n := service.DefaultTopRated
	if v := r.URL.Query().Get("limit"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			httputil.WriteError(w, r, apperrors.InvalidInput("limit must be a positive integer"), h.logger)
			return
		}
		n = parsed
	}

	books, err := h.service.TopRated(r.Context(), n)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, books)
}

// GetBook handles GET /api/books/{id}.
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, book)
}

// CreateBook handles POST /api/books (multipart/form-data with a "book"
// JSON field and an "image" file).
func (h *BookHandler) CreateBook(w http.ResponseWriter, r *http.Request) {
	if !isMultipart(r) {
		httputil.WriteError(w, r, apperrors.InvalidInput("request must be multipart/form-data with book and image fields"), h.logger)
		return
	}

	form, err := parseBookForm(w, r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	defer form.close()

	if form.book == "" {
		httputil.WriteError(w, r, apperrors.InvalidInput("book field is required"), h.logger)
		return
	}
	var req CreateBookRequest
	if err := decodeRequest(strings.NewReader(form.book), &req, "invalid book"); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	book, err := h.service.Create(r.Context(), req.toInput(), form.image, middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, httputil.MessageResponse{Message: "book saved", ID: book.ID})
}

// UpdateBook handles PUT /api/books/{id}. A multipart body carries the
// fields in "book" and may replace the cover through "image"; a JSON body
// carries the fields directly.
func (h *BookHandler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	var (
		req   UpdateBookRequest
		image *service.ImageInput
	)

	if isMultipart(r) {
		form, err := parseBookForm(w, r)
		if err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
		defer form.close()

		if form.book != "" {
			if err := decodeRequest(strings.NewReader(form.book), &req, "invalid book"); err != nil {
				httputil.WriteError(w, r, err, h.logger)
				return
			}
		}
		image = form.image
	} else {
		r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
		if err := decodeRequest(r.Body, &req, "invalid request body"); err != nil {
			httputil.WriteError(w, r, err, h.logger)
			return
		}
	}

	book, err := h.service.Update(r.Context(), chi.URLParam(r, "id"), req.toInput(), image, middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.MessageResponse{Message: "book updated", ID: book.ID})
}

// DeleteBook handles DELETE /api/books/{id}.
func (h *BookHandler) DeleteBook(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.service.Delete(r.Context(), id, middleware.UserIDFromContext(r.Context())); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.MessageResponse{Message: "book deleted", ID: id})
}

// RateBook handles POST /api/books/{id}/rating and answers with the
// updated book.
func (h *BookHandler) RateBook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)

	var req RatingRequest
	if err := decodeRequest(r.Body, &req, "invalid request body"); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	book, err := h.service.AddRating(r.Context(), chi.URLParam(r, "id"), middleware.UserIDFromContext(r.Context()), req.value())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, book)
}

// decodeRequest decodes and validates a JSON document. Validation failures
// are returned as they are; a malformed document is invalid input.
func decodeRequest(body io.Reader, dst any, what string) error {
	err := validator.DecodeAndValidate(body, dst)
	var valErr *validator.ValidationError
	if err == nil || errors.As(err, &valErr) {
		return err
	}
	return apperrors.InvalidInput(what + ": " + err.Error())
}

// bookForm is a parsed multipart book submission.
type bookForm struct {
	book  string
	image *service.ImageInput
	file  multipart.File
	form  *multipart.Form
}

func (f *bookForm) close() {
	if f.file != nil {
		_ = f.file.Close()
	}
	if f.form != nil {
		_ = f.form.RemoveAll()
	}
}

// parseBookForm reads the "book" field and the optional "image" file.
// image is nil when no file was sent.
func parseBookForm(w http.ResponseWriter, r *http.Request) (*bookForm, error) {
	r.Body = http.MaxBytesReader(w, r.Body, domain.MaxImageSize+multipartOverhead)
	if err := r.ParseMultipartForm(domain.MaxImageSize); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, apperrors.InvalidInput("image exceeds the maximum upload size")
		}
		return nil, apperrors.InvalidInput("failed to parse multipart form: " + err.Error())
	}

	form := &bookForm{book: r.FormValue(bookField), form: r.MultipartForm}

	file, header, err := r.FormFile(imageField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return form, nil
		}
		form.close()
		return nil, apperrors.InvalidInput("invalid image: " + err.Error())
	}

	form.file = file
	form.image = &service.ImageInput{
		ContentType: imageContentType(header),
		Size:        header.Size,
		Data:        file,
	}
	return form, nil
}

// imageContentType returns the part's declared type, falling back to the
// file extension when the client sent none.
func imageContentType(header *multipart.FileHeader) string {
	ct := header.Header.Get("Content-Type")
	if ct != "" && ct != "application/octet-stream" {
		if mediaType, _, err := mime.ParseMediaType(ct); err == nil {
			return mediaType
		}
		return ct
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(header.Filename))); byExt != "" {
		mediaType, _, _ := mime.ParseMediaType(byExt)
		return mediaType
	}
	return ct
}

func isMultipart(r *http.Request) bool {
	return strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data")
}
