package circulation

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

// LoanView is the wire form of a loan. Dates are calendar dates in domain.DateLayout.
type LoanView struct {
	ID         string            `json:"id"`
	BookID     string            `json:"book_id"`
	UserID     string            `json:"user_id"`
	LoanDate   string            `json:"loan_date"`
	DueDate    string            `json:"due_date"`
	ReturnDate string            `json:"return_date,omitempty"`
	Penalty    float64           `json:"penalty"`
	Status     domain.LoanStatus `json:"status"`
}

// PenaltyView reports the late fees charged to a user.
type PenaltyView struct {
	UserID string  `json:"user_id"`
	Total  float64 `json:"total"`
}

type loanRequest struct {
	BookID string `json:"book_id"`
	UserID string `json:"user_id"`
}

func (h *Handler) viewOf(l domain.Loan) LoanView {
	v := LoanView{
		ID:       l.ID,
		BookID:   l.BookID,
		UserID:   l.UserID,
		LoanDate: l.LoanDate.Format(domain.DateLayout),
		DueDate:  l.DueDate.Format(domain.DateLayout),
		Penalty:  l.Penalty,
		Status:   h.service.StatusOf(l),
	}
	if l.ReturnDate != nil {
		v.ReturnDate = l.ReturnDate.Format(domain.DateLayout)
	}
	return v
}

func (h *Handler) viewsOf(loans []domain.Loan) []LoanView {
	views := make([]LoanView, len(loans))
	for i, l := range loans {
		views[i] = h.viewOf(l)
	}
	return views
}

// StaffRoutes registers the circulation endpoints.
func (h *Handler) StaffRoutes(r chi.Router) {
	r.Get("/loans", h.handleListLoans)
	r.Post("/loans", h.handleCreateLoan)
	r.Get("/loans/active", h.handleActiveLoans)
	r.Get("/loans/overdue", h.handleOverdueLoans)
	r.Get("/loans/{id}", h.handleGetLoan)
	r.Post("/loans/{id}/return", h.handleReturnLoan)
	r.Get("/users/{id}/loans", h.handleUserLoans)
	r.Get("/users/{id}/penalties", h.handleUserPenalties)
}

// handleListLoans lists every loan, or only those in ?status=active|overdue|returned.
func (h *Handler) handleListLoans(w http.ResponseWriter, r *http.Request) {
	var (
		loans []domain.Loan
		err   error
	)
	if s := r.URL.Query().Get("status"); s != "" {
		status, perr := domain.ParseLoanStatus(s)
		if perr != nil {
			web.Error(w, perr)
			return
		}
		loans, err = h.service.LoansByStatus(r.Context(), status)
	} else {
		loans, err = h.service.ListLoans(r.Context())
	}
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, h.viewsOf(loans))
}

func (h *Handler) handleCreateLoan(w http.ResponseWriter, r *http.Request) {
	var req loanRequest
	if err := web.Decode(r, &req); err != nil {
		web.Error(w, err)
		return
	}

	loan, err := h.service.CreateLoan(r.Context(), req.BookID, req.UserID)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusCreated, h.viewOf(*loan))
}

func (h *Handler) handleActiveLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.ActiveLoans(r.Context())
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, h.viewsOf(loans))
}

func (h *Handler) handleOverdueLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.OverdueLoans(r.Context())
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, h.viewsOf(loans))
}

func (h *Handler) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.service.GetLoan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, h.viewOf(*loan))
}

func (h *Handler) handleReturnLoan(w http.ResponseWriter, r *http.Request) {
	loan, err := h.service.ReturnLoan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, h.viewOf(*loan))
}

func (h *Handler) handleUserLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.service.LoansForUser(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, h.viewsOf(loans))
}

func (h *Handler) handleUserPenalties(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	total, err := h.service.TotalPenalties(r.Context(), userID)
	if err != nil {
		web.Error(w, err)
		return
	}
	web.JSON(w, http.StatusOK, PenaltyView{UserID: userID, Total: total})
}
