package catalog

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"libcirc/internal/domain"
	"libcirc/internal/web"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// BookView is the wire form of a book.
type BookView struct {
	domain.Book
	Available bool `json:"available"`
}

func viewOf(b domain.Book) BookView {
	return BookView{Book: b, Available: b.IsAvailable()}
}

func viewsOf(books []domain.Book) []BookView {
	views := make([]BookView, len(books))
	for i, b := range books {
		views[i] = viewOf(b)
	}
	return views
}

type bookRequest struct {
	Title           string `json:"title"`
	Author          string `json:"author"`
	PublicationYear int    `json:"publication_year"`
	Genre           string `json:"genre"`
	Quantity        int    `json:"quantity"`
}

// PublicRoutes registers the read-only catalogue endpoints.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Get("/books", h.handleListBooks)
	r.Get("/books/available", h.handleListAvailable)
	r.Get("/books/search", h.handleSearch)
	r.Get("/books/{id}", h.handleGetBook)
}

// StaffRoutes registers the endpoints that change the catalogue.
func (h *Handler) StaffRoutes(r chi.Router) {
	r.Post("/books", h.handleAddBook)
	r.Put("/books/{id}", h.handleUpdateBook)
	r.Delete("/books/{id}", h.handleDeleteBook)
}

func (h *Handler) handleListBooks(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListBooks(r.Context())
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, viewsOf(books))
}

func (h *Handler) handleListAvailable(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.ListAvailable(r.Context())
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, viewsOf(books))
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	books, err := h.service.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, viewsOf(books))
}

func (h *Handler) handleGetBook(w http.ResponseWriter, r *http.Request) {
	book, err := h.service.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, viewOf(*book))
}

func (h *Handler) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, err)
		return
	}

	book, err := h.service.AddBook(r.Context(), req.Title, req.Author, req.PublicationYear, req.Genre, req.Quantity)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusCreated, viewOf(*book))
}

// handleUpdateBook rewrites the descriptive fields and moves the copy count by the
// difference between the requested quantity and the one just read. A checkout landing in
// between stays counted.
func (h *Handler) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	var req bookRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, err)
		return
	}

	book, err := h.service.GetBook(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		web.Error(w, err)
		return
	}
	delta := req.Quantity - book.Quantity
	if err := applyUpdate(book, req); err != nil {
		web.Error(w, err)
		return
	}
	if err := h.service.UpdateBook(r.Context(), *book); err != nil {
		web.Error(w, err)
		return
	}
	if delta != 0 {
		if _, err := h.service.AdjustQuantity(r.Context(), book.ID, delta); err != nil {
			web.Error(w, err)
			return
		}
	}

	updated, err := h.service.GetBook(r.Context(), book.ID)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, viewOf(*updated))
}

func (h *Handler) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteBook(r.Context(), chi.URLParam(r, "id")); err != nil {
		web.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
