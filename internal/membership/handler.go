package membership

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

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type userRequest struct {
	Username   string `json:"username"`
	Password   string `json:"password"`
	FullName   string `json:"full_name"`
	NationalID string `json:"national_id"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
	Role       string `json:"role"`
}

// PublicRoutes registers the login endpoint.
func (h *Handler) PublicRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
}

// StaffRoutes registers the user management endpoints.
func (h *Handler) StaffRoutes(r chi.Router) {
	r.Get("/users", h.handleListUsers)
	r.Post("/users", h.handleAddUser)
	r.Get("/users/{id}", h.handleGetUser)
	r.Put("/users/{id}", h.handleUpdateUser)
	r.Delete("/users/{id}", h.handleDeleteUser)
}

// RequireStaff admits requests carrying HTTP Basic credentials of a librarian or admin and
// attaches their Session to the request context.
func (h *Handler) RequireStaff(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			web.Error(w, domain.ErrInvalidCredentials)
			return
		}
		session, err := h.service.Login(r.Context(), username, password)
		if err != nil {
			web.Error(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithSession(r.Context(), session)))
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, err)
		return
	}

	session, err := h.service.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, session)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, users)
}

func (h *Handler) handleAddUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, err)
		return
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		web.Error(w, err)
		return
	}

	user, err := h.service.AddUser(r.Context(), req.Username, req.Password, req.FullName, req.NationalID, req.Phone, req.Address, role)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusCreated, user)
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, user)
}

func (h *Handler) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var req userRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, err)
		return
	}

	user, err := h.service.GetUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		web.Error(w, err)
		return
	}
	if err := applyUpdate(user, req); err != nil {
		web.Error(w, err)
		return
	}
	if err := h.service.UpdateUser(r.Context(), *user); err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, user)
}

// applyUpdate copies the request onto user. An empty password keeps the current one.
func applyUpdate(user *domain.User, req userRequest) error {
	user.Username = req.Username
	user.FullName = req.FullName
	user.NationalID = req.NationalID
	user.Phone = req.Phone
	user.Address = req.Address
	if req.Password != "" {
		if err := user.SetPassword(req.Password); err != nil {
			return err
		}
	}
	role, err := domain.ParseRole(req.Role)
	if err != nil {
		return err
	}
	if err := user.SetRole(role); err != nil {
		return err
	}
	return user.Validate()
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteUser(r.Context(), chi.URLParam(r, "id")); err != nil {
		web.Error(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
