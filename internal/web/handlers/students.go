package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/attendance"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/constants"
	"github.com/ritheshpulikeshimk-svg/face-recognition-attendence/internal/database"
)

// StudentsHandler handles enrollment endpoints
type StudentsHandler struct {
	service *attendance.Service
}

// NewStudentsHandler creates a new students handler
func NewStudentsHandler(svc *attendance.Service) *StudentsHandler {
	return &StudentsHandler{service: svc}
}

// StudentResponse represents a student in API responses
type StudentResponse struct {
	ID           string     `json:"id"`
	Name         string     `json:"name"`
	RollNumber   string     `json:"roll_number"`
	ClassName    string     `json:"class_name"`
	References   int        `json:"references,omitempty"`
	RegisteredAt time.Time  `json:"registered_at"`
	RemovedAt    *time.Time `json:"removed_at,omitempty"`
}

func studentToResponse(st *database.Student) StudentResponse {
	return StudentResponse{
		ID:           st.ID,
		Name:         st.Name,
		RollNumber:   st.RollNumber,
		ClassName:    st.ClassName,
		References:   len(st.Embeddings),
		RegisteredAt: st.RegisteredAt,
		RemovedAt:    st.RemovedAt,
	}
}

// Create enrolls a new student from one or more images
func (h *StudentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if err := parseUpload(w, r); err != nil {
		respondError(w, http.StatusBadRequest, reasonInvalidRequest, err.Error())
		return
	}
	images, err := readImages(r, constants.MaxReferenceImages)
	if err != nil {
		respondError(w, http.StatusBadRequest, reasonInvalidRequest, err.Error())
		return
	}

	meta := database.StudentMeta{
		Name:       r.FormValue("name"),
		RollNumber: r.FormValue("roll_number"),
		ClassName:  r.FormValue("class_name"),
	}
	st, err := h.service.Enroll(r.Context(), meta, images...)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, studentToResponse(st))
}

// List returns all active students
func (h *StudentsHandler) List(w http.ResponseWriter, r *http.Request) {
	students, err := h.service.List(r.Context())
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	out := make([]StudentResponse, len(students))
	for i := range students {
		out[i] = studentToResponse(&students[i])
	}
	respondJSON(w, http.StatusOK, out)
}

// Get returns a single student
func (h *StudentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, studentToResponse(st))
}

// Delete removes a student from matching
func (h *StudentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		respondServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddReference appends a reference image to a student
func (h *StudentsHandler) AddReference(w http.ResponseWriter, r *http.Request) {
	image, err := readImage(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, reasonInvalidRequest, err.Error())
		return
	}
	st, err := h.service.AddReference(r.Context(), chi.URLParam(r, "id"), image)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, studentToResponse(st))
}

// ReEnroll replaces all reference images of a student
func (h *StudentsHandler) ReEnroll(w http.ResponseWriter, r *http.Request) {
	image, err := readImage(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, reasonInvalidRequest, err.Error())
		return
	}
	st, err := h.service.ReEnroll(r.Context(), chi.URLParam(r, "id"), image)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, studentToResponse(st))
}
